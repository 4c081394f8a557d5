package codec

import (
	"sigreport/pkg/contract"
	"sigreport/pkg/signature"
)

// signatureKeys: 以签名模式序列化的绑定名（按优先级）。
var signatureKeys = []string{
	signature.NamePythonUnhandle,
	signature.NameDescription,
	signature.NameSignature,
}

// SerializeToFile 为只能接收单个文件的目的地选择序列化方式：
//   - 含 simpleFile：直接返回该文件路径（不复制，Cleanup 无操作）；
//   - 含 pythonUnhandledException / description / signature（按此优先级）：签名模式，
//     base 取该绑定的文件名（文件型且非空），否则取绑定名；
//   - 其余：报告模式，base 为 "report"。
func SerializeToFile(sig contract.Signature) (*Output, error) {
	if v, ok := sig[signature.NameSimpleFile]; ok && v != nil {
		p, err := v.Path()
		if err != nil {
			return nil, err
		}
		return &Output{Path: p}, nil
	}
	for _, key := range signatureKeys {
		v, ok := sig[key]
		if !ok || v == nil {
			continue
		}
		base := key
		if v.IsFile() && v.DisplayName() != "" {
			base = v.DisplayName()
		}
		return SerializeAsSignature(sig, base)
	}
	return SerializeAsReport(sig, "report")
}

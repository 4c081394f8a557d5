package signature

import "sigreport/pkg/contract"

// 常用绑定名。
const (
	NameComponent      = "component"
	NameHashMarker     = "hashmarkername"
	NameLocalHash      = "localhash"
	NameSummary        = "summary"
	NameDescription    = "description"
	NameProduct        = "product"
	NameVersion        = "version"
	NamePythonUnhandle = "pythonUnhandledException"
	NameSimpleFile     = "simpleFile"
	NameSignature      = "signature"
)

// AddReleaseInformation 在缺失时补充 product 与 version；sig 为 nil 时新建。
// src 为 nil 时使用 OSRelease{}。
func AddReleaseInformation(sig contract.Signature, src ReleaseSource) contract.Signature {
	if sig == nil {
		sig = contract.Signature{}
	}
	if src == nil {
		src = OSRelease{}
	}
	if !sig.Has(NameProduct) {
		sig[NameProduct] = Text(src.Product())
	}
	if !sig.Has(NameVersion) {
		sig[NameVersion] = Text(src.Version())
	}
	return sig
}

// NewAlert 构造告警型签名（全部为内联文本）。
func NewAlert(src ReleaseSource, component, hashMarker, hash, summary, description string) contract.Signature {
	return AddReleaseInformation(contract.Signature{
		NameComponent:   Text(component),
		NameHashMarker:  Text(hashMarker),
		NameLocalHash:   Text(hash),
		NameSummary:     Text(summary),
		NameDescription: Text(description),
	}, src)
}

// NewPythonUnhandledException 构造带异常转储文件的签名。
// exnPath 不可读时立即返回 ErrUnreadable。
func NewPythonUnhandledException(src ReleaseSource, component, hashMarker, hash, summary, description, exnPath string) (contract.Signature, error) {
	exn, err := File(exnPath, false, "")
	if err != nil {
		return nil, err
	}
	sig := NewAlert(src, component, hashMarker, hash, summary, description)
	sig[NamePythonUnhandle] = exn
	return sig, nil
}

// NewSimpleFile 构造只包含单个文件的签名。
func NewSimpleFile(src ReleaseSource, path string, binary bool) (contract.Signature, error) {
	f, err := File(path, binary, "")
	if err != nil {
		return nil, err
	}
	return AddReleaseInformation(contract.Signature{NameSimpleFile: f}, src), nil
}

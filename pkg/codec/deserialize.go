package codec

import (
	"archive/tar"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/klauspost/compress/gzip"

	"sigreport/internal/diag"
	"sigreport/pkg/contract"
	"sigreport/pkg/signature"
)

// FormatErrorTitle: 格式错误通过 IO 报告时使用的标题。
const FormatErrorTitle = "Signature File Format Error"

var gzipMagic = []byte{0x1f, 0x8b}

// archive: 已读入内存的归档成员（仅普通文件）。
type archive map[string][]byte

func (a archive) lookup(name string) ([]byte, bool) {
	if b, ok := a[name]; ok {
		return b, true
	}
	b, ok := a[path.Clean(name)]
	return b, ok
}

// Deserialize 读取单文件 XML 或 tar(.gz) 归档，重建签名。
// 所有预期内的格式问题均返回 *contract.FormatError。
func Deserialize(file string) (contract.Signature, error) {
	root, arc, err := openManifest(file)
	if err != nil {
		return nil, err
	}
	return decodeBindings(file, root, arc)
}

// IsSignatureFile 探测 file 是否为可识别的签名文件（打开、content.xml、XML、根标签），不报告任何信息。
func IsSignatureFile(file string) bool {
	_, _, err := openManifest(file)
	return err == nil
}

// Load 反序列化 file；失败时经 IO 报告（标题 FormatErrorTitle）并返回 (nil, false)。
func Load(file string, ui contract.IO) (contract.Signature, bool) {
	sig, err := Deserialize(file)
	if err != nil {
		diag.Fail(ui, FormatErrorTitle, err.Error())
		return nil, false
	}
	return sig, true
}

// docReader: 定位到根元素之后的解码器。
type docReader struct {
	dec  *xml.Decoder
	root xml.StartElement
}

func openManifest(file string) (*docReader, archive, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, contract.NewFormatError(file, "failed to open file", err)
	}

	var arc archive
	doc := raw
	if isArchive(raw) {
		arc, err = readArchive(raw)
		if err != nil {
			return nil, nil, contract.NewFormatError(file, "failed to read archive", err)
		}
		m, ok := arc[contract.ManifestMember]
		if !ok {
			return nil, nil, contract.NewFormatError(file,
				fmt.Sprintf("archive does not contain a member named '%s'", contract.ManifestMember), nil)
		}
		doc = m
	}

	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("no root element")
			}
			return nil, nil, contract.NewFormatError(file, "error while parsing", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "report" {
				return nil, nil, contract.NewFormatError(file,
					fmt.Sprintf("document tag is not valid: %s", qualified(se.Name)), nil)
			}
			return &docReader{dec: dec, root: se}, arc, nil
		}
	}
}

func decodeBindings(file string, r *docReader, arc archive) (contract.Signature, error) {
	sig := contract.Signature{}
	fail := func(err error) (contract.Signature, error) {
		_ = sig.Close()
		return nil, err
	}
	depth := 1
	for depth > 0 {
		tok, err := r.dec.Token()
		if err != nil {
			return fail(contract.NewFormatError(file, "error while parsing", err))
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "binding" {
				return fail(contract.NewFormatError(file,
					fmt.Sprintf("document element has a child with an invalid tag: %s", qualified(t.Name)), nil))
			}
			name, v, err := decodeBinding(file, r.dec, t, arc)
			if err != nil {
				return fail(err)
			}
			if old, ok := sig[name]; ok {
				_ = old.Close()
			}
			sig[name] = v
		case xml.EndElement:
			depth--
		}
	}
	// 根元素之后只允许空白、注释与处理指令
	for {
		tok, err := r.dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(contract.NewFormatError(file, "error while parsing", err))
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return fail(contract.NewFormatError(file, "error while parsing",
				fmt.Errorf("junk after document element: %s", qualified(t.Name))))
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return fail(contract.NewFormatError(file, "error while parsing",
					errors.New("junk after document element")))
			}
		}
	}
	return sig, nil
}

// decodeBinding 读取单个 binding 元素直至其结束标签。
func decodeBinding(file string, dec *xml.Decoder, se xml.StartElement, arc archive) (string, contract.Value, error) {
	var (
		name, typ, fileName, href, value string
		hasName, hasHref, hasValue       bool
	)
	for _, a := range se.Attr {
		if a.Name.Space != "" {
			continue
		}
		switch a.Name.Local {
		case "name":
			name, hasName = a.Value, true
		case "type":
			typ = a.Value
		case "fileName":
			fileName = a.Value
		case "href":
			href, hasHref = a.Value, true
		case "value":
			value, hasValue = a.Value, true
		}
	}

	// 文本内容只取第一个非字符数据节点之前的部分（跳过嵌套元素）
	var text bytes.Buffer
	leading := true
	for done := false; !done; {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, contract.NewFormatError(file, "error while parsing", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			if leading {
				text.Write(t)
			}
		case xml.StartElement:
			leading = false
			if err := dec.Skip(); err != nil {
				return "", nil, contract.NewFormatError(file, "error while parsing", err)
			}
		case xml.EndElement:
			done = true
		default:
			leading = false
		}
	}

	if !hasName {
		return "", nil, contract.NewFormatError(file, "binding element has no 'name' attribute", nil)
	}
	binary := typ == "binary"

	if hasHref {
		if arc == nil {
			return "", nil, contract.NewFormatError(file,
				fmt.Sprintf("binding %s has an 'href' but no content", name), nil)
		}
		data, ok := arc.lookup(href)
		if !ok {
			return "", nil, contract.NewFormatError(file,
				fmt.Sprintf("archive does not contain a member named '%s'", href), nil)
		}
		return name, signature.Stream(bytes.NewReader(data), binary, fileName), nil
	}

	switch {
	case hasValue && text.Len() > 0:
		return "", nil, contract.NewFormatError(file,
			fmt.Sprintf("binding %s has both a 'value' attribute and a text child", name), nil)
	case hasValue:
		return name, signature.TextBinary(value, binary), nil
	case text.Len() > 0:
		return name, signature.TextBinary(text.String(), binary), nil
	default:
		return "", nil, contract.NewFormatError(file,
			fmt.Sprintf("binding %s has neither a 'value' attribute nor a text child", name), nil)
	}
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

// isArchive: gzip 魔数，或偏移 257 处的 ustar 魔数。
func isArchive(raw []byte) bool {
	if bytes.HasPrefix(raw, gzipMagic) {
		return true
	}
	return len(raw) >= 262 && string(raw[257:262]) == "ustar"
}

func readArchive(raw []byte) (archive, error) {
	var r io.Reader = bytes.NewReader(raw)
	if bytes.HasPrefix(raw, gzipMagic) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	tr := tar.NewReader(r)
	arc := archive{}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		arc[hdr.Name] = b
	}
	return arc, nil
}

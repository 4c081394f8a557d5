// Package codec 负责签名在单文件 XML 与 tar.gz 归档两种外部格式间的转换。
package codec

import (
	"archive/tar"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"sigreport/pkg/contract"
)

// Namespace: 清单根元素的默认命名空间。
const Namespace = "http://www.redhat.com/gss/strata"

// 输出文件扩展名。
const (
	ExtXML     = ".xml"
	ExtArchive = ".tar.gz"
)

// manifest/binding: content.xml 的编码形态。
type manifest struct {
	XMLName  xml.Name      `xml:"http://www.redhat.com/gss/strata report"`
	Bindings []bindingElem `xml:"binding"`
}

type bindingElem struct {
	Name     string  `xml:"name,attr"`
	FileName string  `xml:"fileName,attr,omitempty"`
	Type     string  `xml:"type,attr,omitempty"`
	Value    *string `xml:"value,attr,omitempty"`
	Href     string  `xml:"href,attr,omitempty"`
	Text     string  `xml:",chardata"`
}

// Output: 序列化产物。
// Path 位于 codec 创建的临时目录时，Cleanup 删除该目录；否则 Cleanup 无操作。
type Output struct {
	Path   string
	tmpDir string
}

// Cleanup 删除 codec 自己创建的临时目录（幂等）。
func (o *Output) Cleanup() error {
	if o == nil || o.tmpDir == "" {
		return nil
	}
	d := o.tmpDir
	o.tmpDir = ""
	return os.RemoveAll(d)
}

// member: 待写入归档的文件型绑定。
type member struct {
	name string
	data []byte
}

// Serialize 将 sig 写入新建临时目录下的 <base>.xml 或 <base>.tar.gz。
func Serialize(sig contract.Signature, base string, asSignature bool) (*Output, error) {
	dir, err := os.MkdirTemp("", "sigreport-")
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	p, err := SerializeTo(sig, base, asSignature, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Output{Path: p, tmpDir: dir}, nil
}

// SerializeAsSignature: 签名模式（丢弃二进制绑定，全部内联）。base 为空时取 "signature"。
func SerializeAsSignature(sig contract.Signature, base string) (*Output, error) {
	if base == "" {
		base = "signature"
	}
	return Serialize(sig, base, true)
}

// SerializeAsReport: 报告模式（文件型绑定进入归档）。base 为空时取 "report"。
func SerializeAsReport(sig contract.Signature, base string) (*Output, error) {
	if base == "" {
		base = "report"
	}
	return Serialize(sig, base, false)
}

// SerializeTo 将 sig 写入 dir，返回产物路径。
// 规则：
//   - asSignature 时丢弃二进制绑定；
//   - 文件型绑定写出 fileName（非空时）与 type；
//   - 签名模式或非文件型绑定内联文本；文件型绑定放入归档 content/ 之下；
//   - 无归档成员时输出 <base>.xml，否则输出 <base>.tar.gz，content.xml 作为最后一个成员。
func SerializeTo(sig contract.Signature, base string, asSignature bool, dir string) (string, error) {
	base = contract.BaseName(base, "report")

	m := manifest{}
	var members []member
	used := map[string]bool{}

	for _, name := range sig.Names() {
		v := sig[name]
		if v == nil {
			continue
		}
		if !contract.ValidName(name) {
			return "", fmt.Errorf("serialize: %w: %q", contract.ErrInvalidName, name)
		}
		if asSignature && v.IsBinary() {
			continue
		}
		b := bindingElem{Name: name}
		archived := !asSignature && v.IsFile()
		if v.IsFile() {
			if v.DisplayName() != "" {
				b.FileName = v.DisplayName()
			}
			if v.IsBinary() {
				b.Type = "binary"
			} else {
				b.Type = "text"
			}
		}

		if !archived {
			s, err := v.String()
			if err != nil {
				return "", fmt.Errorf("serialize %s: %w", name, err)
			}
			if s == "" {
				empty := ""
				b.Value = &empty
			} else {
				b.Text = s
			}
			m.Bindings = append(m.Bindings, b)
			continue
		}

		data, err := readValue(v)
		if err != nil {
			return "", fmt.Errorf("serialize %s: %w", name, err)
		}
		internal := v.DisplayName()
		if internal == "" {
			internal = name
		}
		mp, err := contract.NormalizeMemberPath(internal)
		if err != nil {
			mp, _ = contract.NormalizeMemberPath(name)
		}
		mp = uniqueMember(mp, used)
		b.Href = mp
		members = append(members, member{name: mp, data: data})
		m.Bindings = append(m.Bindings, b)
	}

	doc, err := encodeManifest(m)
	if err != nil {
		return "", err
	}

	if len(members) == 0 {
		out := filepath.Join(dir, base+ExtXML)
		if err := writeFileAtomic(out, doc); err != nil {
			return "", fmt.Errorf("serialize: %w", err)
		}
		return out, nil
	}

	members = append(members, member{name: contract.ManifestMember, data: doc})
	var buf bytes.Buffer
	if err := writeArchive(&buf, members); err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}
	out := filepath.Join(dir, base+ExtArchive)
	if err := writeFileAtomic(out, buf.Bytes()); err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}
	return out, nil
}

func readValue(v contract.Value) ([]byte, error) {
	rc, err := v.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// uniqueMember 为重复的归档路径追加数字后缀。
func uniqueMember(p string, used map[string]bool) string {
	cand := p
	for i := 1; used[cand] || cand == contract.ManifestMember; i++ {
		cand = fmt.Sprintf("%s.%d", p, i)
	}
	used[cand] = true
	return cand
}

func encodeManifest(m manifest) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func writeArchive(w io.Writer, members []member) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	now := time.Now()
	for _, mb := range members {
		hdr := &tar.Header{
			Name:     mb.name,
			Mode:     0o644,
			Size:     int64(len(mb.data)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(mb.data); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// writeFileAtomic: 同目录临时文件 + rename。
func writeFileAtomic(dst string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

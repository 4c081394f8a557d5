package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sigreport/pkg/codec"
	"sigreport/pkg/contract"
	"sigreport/pkg/signature"
)

// runT 执行 CLI，返回退出码与 stdout/stderr。
func runT(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errb bytes.Buffer
	code := runWith(args, strings.NewReader(""), &out, &errb)
	return code, out.String(), errb.String()
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// isolated 返回不读取系统配置的公共旗标。
func isolated(t *testing.T, cfgFile string) []string {
	t.Helper()
	return []string{"--config", cfgFile, "--config-dir", t.TempDir(), "--keyring=false", "--status=false"}
}

func TestInitConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "etc")
	code, out, _ := runT(t, "init-config", dir)
	if code != 0 {
		t.Fatalf("init-config exit %d", code)
	}
	if !strings.Contains(out, "created") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "report.yaml")); err != nil {
		t.Fatalf("template not generated: %v", err)
	}
	code, out, _ = runT(t, "init-config", dir)
	if code != 0 || !strings.Contains(out, "already exists") {
		t.Fatalf("second run: exit %d, %q", code, out)
	}
}

func TestSerializeInspectCheck(t *testing.T) {
	dir := t.TempDir()
	core := writeFile(t, filepath.Join(dir, "core"), "\x00\x01\x02")
	outDir := filepath.Join(dir, "out")

	code, out, errs := runT(t, "serialize", "--text", "summary=disk full", "--binary", "core="+core, "--out", outDir)
	if code != 0 {
		t.Fatalf("serialize exit %d: %s", code, errs)
	}
	archive := strings.TrimSpace(out)
	if !strings.HasSuffix(archive, "report.tar.gz") {
		t.Fatalf("want tar.gz output, got %q", archive)
	}

	code, out, _ = runT(t, "inspect", archive)
	if code != 0 {
		t.Fatalf("inspect exit %d", code)
	}
	if !strings.Contains(out, `summary [text] "disk full"`) {
		t.Fatalf("inspect missing summary: %q", out)
	}
	if !strings.Contains(out, "core [file,binary]") || !strings.Contains(out, "(3 bytes)") {
		t.Fatalf("inspect missing core: %q", out)
	}

	if code, _, _ := runT(t, "check", archive); code != 0 {
		t.Fatalf("check on archive: exit %d", code)
	}
	if code, _, _ := runT(t, "check", core); code != 1 {
		t.Fatalf("check on plain file: exit %d", code)
	}

	code, out, _ = runT(t, "serialize", "--signature", "--text", "summary=x", "--binary", "core="+core, "--out", outDir)
	if code != 0 || !strings.HasSuffix(strings.TrimSpace(out), "signature.xml") {
		t.Fatalf("signature mode: exit %d, %q", code, out)
	}
}

func TestSerializeRejectsBadBinding(t *testing.T) {
	if code, _, _ := runT(t, "serialize", "--text", "bad-name=x", "--out", t.TempDir()); code != 3 {
		t.Fatalf("invalid name: exit %d", code)
	}
	if code, _, _ := runT(t, "serialize", "--out", t.TempDir()); code != 3 {
		t.Fatalf("empty signature: exit %d", code)
	}
	if code, _, _ := runT(t, "serialize", "--file", "f="+filepath.Join(t.TempDir(), "missing")); code != 1 {
		t.Fatalf("unreadable file: exit %d", code)
	}
}

func TestSendToLocalsave(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "saved")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := writeFile(t, filepath.Join(dir, "report.yaml"), "main:\n  loglevel: LOG_DEBUG\nlocalsave:\n  plugin: localsave\n  path: "+dest+"\n")
	answers := writeFile(t, filepath.Join(dir, "answers.yaml"), "{}\n")
	evidence := writeFile(t, filepath.Join(dir, "notes.txt"), "something broke\n")

	args := append(isolated(t, cfg), "--io", "scripted", "--answers", answers, "--target", "localsave", "send", evidence)
	code, _, errs := runT(t, args...)
	if code != 0 {
		t.Fatalf("send exit %d: %s", code, errs)
	}
	entries, err := os.ReadDir(dest)
	if err != nil || len(entries) != 1 {
		t.Fatalf("want one saved report, got %v (%v)", entries, err)
	}
}

func TestSendSignatureFile(t *testing.T) {
	dir := t.TempDir()
	code, out, _ := runT(t, "serialize", "--text", "summary=hello", "--out", dir)
	if code != 0 {
		t.Fatalf("serialize exit %d", code)
	}
	sigFile := strings.TrimSpace(out)
	dest := filepath.Join(dir, "saved")
	cfg := writeFile(t, filepath.Join(dir, "report.yaml"), "localsave:\n  path: "+dest+"\n")
	answers := writeFile(t, filepath.Join(dir, "answers.yaml"), "choices:\n  \"'"+dest+"' does not exist, create it?\": OK\n")

	args := append(isolated(t, cfg), "--io", "scripted", "--answers", answers, "--target", "localsave", "send", sigFile)
	if code, _, errs := runT(t, args...); code != 0 {
		t.Fatalf("send exit %d: %s", code, errs)
	}
	sig, err := readBack(dest)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := sig.StringOf(signature.NameSummary); got != "hello" {
		t.Fatalf("summary = %q", got)
	}
}

// readBack 反序列化 dir 下唯一的产物。
func readBack(dir string) (contract.Signature, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 {
		return nil, fmt.Errorf("want one file in %s, got %d", dir, len(entries))
	}
	return codec.Deserialize(filepath.Join(dir, entries[0].Name()))
}

func TestSendCanceled(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, filepath.Join(dir, "report.yaml"), "localsave:\n  path: "+dir+"\n")
	answers := writeFile(t, filepath.Join(dir, "answers.yaml"), "{}\n")
	evidence := writeFile(t, filepath.Join(dir, "notes.txt"), "x")

	// 未强制 target：选择目的地时无应答即取消
	args := append(isolated(t, cfg), "--io", "scripted", "--answers", answers, "send", evidence)
	if code, _, _ := runT(t, args...); code != 2 {
		t.Fatalf("want canceled exit 2, got %d", code)
	}
}

func TestSendNoSuchTarget(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, filepath.Join(dir, "report.yaml"), "localsave:\n  path: "+dir+"\n")
	answers := writeFile(t, filepath.Join(dir, "answers.yaml"), "{}\n")
	evidence := writeFile(t, filepath.Join(dir, "notes.txt"), "x")

	args := append(isolated(t, cfg), "--io", "scripted", "--answers", answers, "--target", "nowhere", "send", evidence)
	code, _, errs := runT(t, args...)
	if code != 1 {
		t.Fatalf("want failed exit 1, got %d", code)
	}
	if !strings.Contains(errs, "no such destination") {
		t.Fatalf("stderr %q", errs)
	}
}

func TestUsageErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, filepath.Join(dir, "report.yaml"), "{}\n")
	evidence := writeFile(t, filepath.Join(dir, "notes.txt"), "x")

	cases := map[string][]string{
		"bad option":       append(isolated(t, cfg), "--option", "novalue", "--io", "scripted", "--answers", cfg, "send", evidence),
		"missing answers":  append(isolated(t, cfg), "--io", "scripted", "send", evidence),
		"unknown io":       append(isolated(t, cfg), "--io", "gui", "send", evidence),
		"no files":         append(isolated(t, cfg), "send"),
		"unknown command":  {"frobnicate"},
		"inspect too many": {"inspect", "a", "b"},
	}
	for name, args := range cases {
		if code, _, _ := runT(t, args...); code != 3 {
			t.Errorf("%s: want exit 3, got %d", name, code)
		}
	}
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, filepath.Join(dir, "good.yaml"), "main:\n  max_attempts: 2\nmine:\n  plugin: localsave\n  path: /tmp\n")
	code, out, _ := runT(t, append(isolated(t, good), "config")...)
	if code != 0 {
		t.Fatalf("config exit %d", code)
	}
	if !strings.Contains(out, "mine:") || !strings.Contains(out, "max_attempts: 2") {
		t.Fatalf("effective config: %q", out)
	}

	bad := writeFile(t, filepath.Join(dir, "bad.yaml"), "mine:\n  plugin: nope\n")
	code, _, errs := runT(t, append(isolated(t, bad), "config")...)
	if code != 3 || !strings.Contains(errs, `plugin "nope" not registered`) {
		t.Fatalf("invalid config: exit %d, %q", code, errs)
	}
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, filepath.Join(t.TempDir(), ".env"),
		"# comment\nexport REPORT_TEST_A=\"quoted\"\nREPORT_TEST_B=keep\nOTHER_VAR=ignored\n")
	t.Setenv("REPORT_TEST_B", "existing")
	os.Unsetenv("REPORT_TEST_A")
	defer os.Unsetenv("REPORT_TEST_A")

	if err := loadDotEnv(p); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("REPORT_TEST_A"); got != "quoted" {
		t.Fatalf("REPORT_TEST_A = %q", got)
	}
	if got := os.Getenv("REPORT_TEST_B"); got != "existing" {
		t.Fatalf("existing env overwritten: %q", got)
	}
	if _, ok := os.LookupEnv("OTHER_VAR"); ok {
		t.Fatalf("non REPORT_ key injected")
	}
	if err := loadDotEnv(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

func TestDescribe(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := describe("summary", signature.Text(long))
	if !strings.HasSuffix(got, `..."`) {
		t.Fatalf("long text not truncated: %q", got)
	}
	got = describe("core", signature.Bytes([]byte{0xff, 0xfe}, true, "core.bin"))
	if got != "core [file,binary] core.bin (2 bytes)" {
		t.Fatalf("binary: %q", got)
	}
}

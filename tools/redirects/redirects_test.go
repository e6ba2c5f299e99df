package main

import (
	"bytes"
	"debug/elf"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, contents string) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}

	if err := ioutil.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestModulePath(t *testing.T) {
	root, err := ioutil.TempDir("", "redirects")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	if _, err = modulePath(root); err == nil {
		t.Fatal("expected an error for a missing go.mod")
	}

	writeFile(t, filepath.Join(root, "go.mod"), "go 1.15\n")
	if _, err = modulePath(root); err == nil {
		t.Fatal("expected an error for a go.mod without a module directive")
	}

	writeFile(t, filepath.Join(root, "go.mod"), "module simpleos\n\ngo 1.15\n")
	modPath, err := modulePath(root)
	if err != nil {
		t.Fatal(err)
	}

	if exp := "simpleos"; modPath != exp {
		t.Fatalf("expected module path to be %q; got %q", exp, modPath)
	}
}

func TestFindRedirects(t *testing.T) {
	root, err := ioutil.TempDir("", "redirects")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	writeFile(t, filepath.Join(root, "kernel", "kfmt", "panic.go"), `package kfmt

// Panic halts the CPU.
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {}

//go:redirect-from runtime.throw
func panicString(msg string) {}

// Printf is not redirected.
func Printf(format string, args ...interface{}) {}
`)
	writeFile(t, filepath.Join(root, "kernel", "kfmt", "panic_test.go"), `package kfmt

//go:redirect-from runtime.printstring
func fakeRedirect() {}
`)

	goFiles, err := collectGoFiles(filepath.Join(root, "kernel"))
	if err != nil {
		t.Fatal(err)
	}

	if len(goFiles) != 1 {
		t.Fatalf("expected test files to be skipped; got %v", goFiles)
	}

	redirects, err := findRedirects(root, "simpleos", goFiles)
	if err != nil {
		t.Fatal(err)
	}

	exp := map[string]string{
		"runtime.gopanic": "simpleos/kernel/kfmt.Panic",
		"runtime.throw":   "simpleos/kernel/kfmt.panicString",
	}

	if len(redirects) != len(exp) {
		t.Fatalf("expected %d redirects; got %d", len(exp), len(redirects))
	}

	for _, r := range redirects {
		if exp[r.src] != r.dst {
			t.Errorf("expected %q to be redirected to %q; got %q", r.src, exp[r.src], r.dst)
		}
	}
}

func TestFindRedirectsMalformed(t *testing.T) {
	root, err := ioutil.TempDir("", "redirects")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	goFile := filepath.Join(root, "kernel", "bad.go")
	writeFile(t, goFile, `package kernel

//go:redirect-from runtime.gopanic extra
func Panic() {}
`)

	if _, err = findRedirects(root, "simpleos", []string{goFile}); err == nil {
		t.Fatal("expected an error for a malformed directive")
	}
}

func TestResolveRedirectSymbols(t *testing.T) {
	symbols := []elf.Symbol{
		{Name: "runtime.gopanic", Value: 0x101000},
		{Name: "simpleos/kernel/kfmt.Panic", Value: 0x102040},
	}

	redirects := []*redirect{{src: "runtime.gopanic", dst: "simpleos/kernel/kfmt.Panic"}}
	if err := resolveRedirectSymbols(redirects, symbols); err != nil {
		t.Fatal(err)
	}

	if redirects[0].srcVMA != 0x101000 || redirects[0].dstVMA != 0x102040 {
		t.Fatalf("unexpected addresses: 0x%x -> 0x%x", redirects[0].srcVMA, redirects[0].dstVMA)
	}

	var buf bytes.Buffer
	if err := writeRedirectTable(&buf, redirects); err != nil {
		t.Fatal(err)
	}

	exp := []byte{0x00, 0x10, 0x10, 0x00, 0x40, 0x20, 0x10, 0x00}
	if !bytes.Equal(buf.Bytes(), exp) {
		t.Fatalf("expected table to be % x; got % x", exp, buf.Bytes())
	}

	specs := []*redirect{
		{src: "runtime.throw", dst: "simpleos/kernel/kfmt.Panic"},
		{src: "runtime.gopanic", dst: "simpleos/kernel/kfmt.missing"},
	}

	for specIndex, spec := range specs {
		if err := resolveRedirectSymbols([]*redirect{spec}, symbols); err == nil {
			t.Errorf("[spec %d] expected an error for an unresolved symbol", specIndex)
		}
	}
}

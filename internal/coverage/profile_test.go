package coverage

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const sampleProfile = `mode: set
gantry/internal/config/config.go:10.2,12.3 2 1
gantry/internal/config/config.go:15.2,20.3 4 0
gantry/internal/shell/executor.go:8.2,9.10 1 5
`

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cover.out")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestParseFile(t *testing.T) {
	p, err := ParseFile(writeProfile(t, sampleProfile))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if p.Mode != "set" {
		t.Errorf("expected mode=set, got %q", p.Mode)
	}
	if len(p.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(p.Blocks))
	}

	b := p.Blocks[0]
	if b.File != "gantry/internal/config/config.go" {
		t.Errorf("unexpected file %q", b.File)
	}
	if b.StartLine != 10 || b.StartCol != 2 || b.EndLine != 12 || b.EndCol != 3 {
		t.Errorf("unexpected range: %+v", b)
	}
	if b.NumStmt != 2 || b.Count != 1 {
		t.Errorf("unexpected counts: %+v", b)
	}
}

func TestProfile_TotalPercent(t *testing.T) {
	p, err := ParseFile(writeProfile(t, sampleProfile))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	// 3 of 7 statements covered.
	want := 100 * 3.0 / 7.0
	if got := p.TotalPercent(); math.Abs(got-want) > 0.01 {
		t.Errorf("expected %.2f%%, got %.2f%%", want, got)
	}
}

func TestProfile_Files(t *testing.T) {
	p, err := ParseFile(writeProfile(t, sampleProfile))
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	files := p.Files()
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	// Sorted by name: config.go first.
	if files[0].Covered != 2 || files[0].Statements != 6 {
		t.Errorf("unexpected config.go summary: %+v", files[0])
	}
	if files[1].Percent != 100 {
		t.Errorf("executor.go should be fully covered, got %.1f%%", files[1].Percent)
	}
}

func TestParseFile_Malformed(t *testing.T) {
	cases := map[string]string{
		"missing mode":  "gantry/a.go:1.1,2.2 1 1\n",
		"bad range":     "mode: set\ngantry/a.go:1.1-2.2 1 1\n",
		"bad fields":    "mode: set\ngantry/a.go:1.1,2.2 1\n",
		"bad count":     "mode: set\ngantry/a.go:1.1,2.2 1 x\n",
		"no file colon": "mode: set\nnofile 1 1\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFile(writeProfile(t, content)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseFile_Missing(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing.out")); err == nil {
		t.Error("expected error for missing profile")
	}
}

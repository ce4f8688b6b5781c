package pathguard

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestValidateAllowsPathUnderRoot(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "work", "file.txt")
	res := Validate(target, []string{root}, nil)
	if !res.Allowed {
		t.Fatalf("expected allowed, got reason %v", res.Reason)
	}
}

func TestValidateRejectsSiblingWithSharedPrefix(t *testing.T) {
	root := t.TempDir()
	sibling := root + "-sibling"
	res := Validate(sibling, []string{root}, nil)
	if res.Allowed {
		t.Fatalf("expected sibling path with shared string prefix to be rejected")
	}
}

func TestValidateRejectsNullByte(t *testing.T) {
	res := Validate("/tmp/ab\x00c", []string{"/tmp"}, nil)
	if res.Allowed {
		t.Fatalf("expected null byte path to be rejected")
	}
}

func TestValidateRejectsEmptyPath(t *testing.T) {
	res := Validate("", []string{"/tmp"}, nil)
	if res.Allowed {
		t.Fatalf("expected empty path to be rejected")
	}
}

func TestValidateDenyGlobBlocksDotEnv(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, ".env")
	res := Validate(target, []string{root}, []string{"**/.env"})
	if res.Allowed {
		t.Fatalf("expected .env to be denied")
	}
}

func TestValidateDenyGlobAllowsUnrelatedFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "notes.txt")
	res := Validate(target, []string{root}, []string{"**/.env"})
	if !res.Allowed {
		t.Fatalf("expected notes.txt to be allowed, got %v", res.Reason)
	}
}

func TestValidateSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink semantics differ on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	target := filepath.Join(link, "secret.txt")
	res := Validate(target, []string{root}, nil)
	if res.Allowed {
		t.Fatalf("expected symlink escape to be rejected")
	}
}

func TestValidateSessionIDGrammar(t *testing.T) {
	if err := ValidateSessionID("abc-123_DEF"); err != nil {
		t.Fatalf("expected valid id, got %v", err)
	}
	if err := ValidateSessionID("../etc"); err == nil {
		t.Fatalf("expected invalid id to be rejected")
	}
	if err := ValidateSessionID(""); err == nil {
		t.Fatalf("expected empty id to be rejected")
	}
}

func TestSafeArtifactNameRejectsTraversal(t *testing.T) {
	if err := SafeArtifactName("../secret"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if err := SafeArtifactName("sub/file.txt"); err == nil {
		t.Fatalf("expected nested path to be rejected")
	}
	if err := SafeArtifactName("patch.diff"); err != nil {
		t.Fatalf("expected plain name to be allowed, got %v", err)
	}
}

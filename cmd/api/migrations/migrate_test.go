package migrations

import (
	"context"
	"io/fs"
	"strings"
	"testing"
)

func TestFilesPerDriver(t *testing.T) {
	var want []string
	for _, driver := range []string{"postgres", "mysql"} {
		sub, err := Files(driver)
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		names, err := fs.Glob(sub, "*.sql")
		if err != nil {
			t.Fatal(err)
		}
		if len(names) == 0 {
			t.Fatalf("%s: no migrations", driver)
		}
		for _, n := range names {
			b, err := fs.ReadFile(sub, n)
			if err != nil {
				t.Fatal(err)
			}
			s := string(b)
			if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
				t.Fatalf("%s/%s: missing goose annotations", driver, n)
			}
		}
		if want == nil {
			want = names
			continue
		}
		if strings.Join(names, ",") != strings.Join(want, ",") {
			t.Fatalf("%s versions %v differ from %v", driver, names, want)
		}
	}
}

func TestApplyUnknownDriver(t *testing.T) {
	if err := Apply(context.Background(), nil, "sqlite"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

package pgvector

import (
	"errors"
	"strings"
	"testing"

	"github.com/smartinsight/knowledge-core/pkg/vectorindex"
)

func TestTableName(t *testing.T) {
	t.Parallel()

	t.Run("valid names get prefixed", func(t *testing.T) {
		t.Parallel()
		for _, name := range []string{"docs", "knowledge_chunks", "a1_b2"} {
			table, err := tableName(name)
			if err != nil {
				t.Fatalf("tableName(%q): %v", name, err)
			}
			if table != "vi_"+name {
				t.Fatalf("tableName(%q) = %q", name, table)
			}
		}
	})

	t.Run("unsafe names rejected", func(t *testing.T) {
		t.Parallel()
		bad := []string{
			"",
			"Docs",
			"1docs",
			"docs; DROP TABLE vi_docs",
			"docs-chunks",
			strings.Repeat("a", 60),
		}
		for _, name := range bad {
			if _, err := tableName(name); !errors.Is(err, vectorindex.ErrInvalidArgument) {
				t.Fatalf("tableName(%q): expected ErrInvalidArgument, got %v", name, err)
			}
		}
	})
}

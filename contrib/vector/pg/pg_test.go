package pg

import (
	"strings"
	"testing"

	"github.com/lib/pq"
)

func TestVectorToString(t *testing.T) {
	if got := vectorToString([]float32{1, 0.5, -0.25}); got != "[1,0.5,-0.25]" {
		t.Fatalf("unexpected vector literal %s", got)
	}
}

func TestSearchQueryWithoutDomains(t *testing.T) {
	ix := NewWithDB(nil, "", 3, nil)
	query, args := ix.searchQuery("[1,0,0]", 5, nil)
	if !strings.Contains(query, `FROM "documents"`) || strings.Contains(query, "WHERE") {
		t.Fatalf("unexpected query:\n%s", query)
	}
	if !strings.Contains(query, "LIMIT $2") || len(args) != 2 || args[1] != 5 {
		t.Fatalf("unexpected limit binding: %s %v", query, args)
	}
}

func TestSearchQueryWithDomains(t *testing.T) {
	ix := NewWithDB(nil, "kb", 3, nil)
	query, args := ix.searchQuery("[1,0,0]", 4, []string{"DevOps", "api"})
	if !strings.Contains(query, "WHERE domain = ANY($2)") || !strings.Contains(query, "LIMIT $3") {
		t.Fatalf("unexpected query:\n%s", query)
	}
	arr, ok := args[1].(*pq.StringArray)
	if !ok {
		t.Fatalf("expected pq.StringArray binding, got %T", args[1])
	}
	if (*arr)[0] != "devops" || (*arr)[1] != "api" {
		t.Fatalf("domains must be lowercased, got %v", *arr)
	}
}

package entity

import "testing"

func TestTextSurface(t *testing.T) {
	tests := []struct {
		name string
		e    Entity
		want string
	}{
		{
			name: "user",
			e: &User{
				UserID:    "u1",
				Biography: "ML researcher",
				Skills:    []string{"python"},
				Interests: []string{"robotics"},
			},
			want: "ML researcher python robotics",
		},
		{
			name: "user with multi-word lists",
			e: &User{
				Biography: "Backend dev",
				Skills:    []string{"go", "sql"},
				Interests: []string{"databases", "distributed systems"},
			},
			want: "Backend dev go sql databases distributed systems",
		},
		{
			name: "user with empty biography",
			e:    &User{Skills: []string{"go"}, Interests: []string{"chess"}},
			want: " go chess",
		},
		{
			name: "project",
			e:    &Project{Name: "silo", Description: "retrieval service", Tags: []string{"go", "redis"}},
			want: "silo retrieval service go redis",
		},
		{
			name: "job",
			e:    &Job{Title: "SRE", Description: "keep it running", Company: "Acme"},
			want: "SRE keep it running Acme",
		},
		{
			name: "paper",
			e:    &Paper{Title: "Attention", Abstract: "We propose"},
			want: "Attention\n\nWe propose",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.e.TextSurface(); got != tt.want {
				t.Errorf("TextSurface() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"user", "project", "job", "research", "query"} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q): unexpected error %v", s, err)
		}
	}
	if _, err := ParseKind("group"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if KindQuery.Searchable() {
		t.Error("query vectors must not be searchable")
	}
	if !KindJob.Searchable() {
		t.Error("jobs must be searchable")
	}
}

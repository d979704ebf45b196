package profile

import (
	"context"
	"errors"
	"testing"
)

type stubStore struct {
	cfg   Config
	err   error
	calls int
}

func (s *stubStore) Current(context.Context) (Config, error) {
	s.calls++
	return s.cfg, s.err
}

func TestResolverFallsBackToDefaults(t *testing.T) {
	defaults := Config{CompanyName: "SolarFlash", AssistantName: "Sarah", SchedulingLink: "https://cal.example/default"}

	cases := []struct {
		name  string
		store Store
		want  Config
	}{
		{"nil store", nil, defaults},
		{"not found", &stubStore{err: ErrProfileNotFound}, defaults},
		{"lookup error", &stubStore{err: errors.New("boom")}, defaults},
		{
			"partial row",
			&stubStore{cfg: Config{CompanyName: "SunVolt"}},
			Config{CompanyName: "SunVolt", AssistantName: "Sarah", SchedulingLink: "https://cal.example/default"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NewResolver(tc.store, defaults, nil).Resolve(context.Background())
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestResolverBlankDefaultsUseBuiltIns(t *testing.T) {
	got := NewResolver(nil, Config{}, nil).Resolve(context.Background())
	if got.CompanyName != DefaultCompanyName || got.AssistantName != DefaultAssistantName {
		t.Fatalf("unexpected built-in defaults %+v", got)
	}
}

func TestStaticStore(t *testing.T) {
	cfg, err := Static{CompanyName: "A", AssistantName: "B"}.Current(context.Background())
	if err != nil || cfg.CompanyName != "A" {
		t.Fatalf("unexpected static result %+v %v", cfg, err)
	}
}

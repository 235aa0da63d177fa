package apps

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/oracle"
)

func recommender(reply string, err error, got *oracle.Request) *OracleRecommender {
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		if got != nil {
			*got = req
		}
		return reply, err
	})
	return NewOracleRecommender(oracle.NewClient(o, nil, nil), nil)
}

func TestRecommend(t *testing.T) {
	installed := []string{"com.android.settings", "com.whatsapp", "org.telegram.messenger"}
	task := &models.Task{ID: "t1", Description: "Call my son on WhatsApp"}

	tests := []struct {
		name     string
		reply    string
		excluded []string
		want     string
	}{
		{"picks installed", `{"Package": "com.whatsapp", "Reason": "messaging"}`, nil, "com.whatsapp"},
		{"none", `{"Package": "None"}`, nil, ""},
		{"not installed", `{"Package": "com.facebook.orca"}`, nil, ""},
		{"excluded", `{"Package": "com.whatsapp"}`, []string{"com.whatsapp"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req oracle.Request
			got, err := recommender(tt.reply, nil, &req).Recommend(context.Background(), task, installed, tt.excluded)
			if err != nil {
				t.Fatalf("Recommend failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if req.Kind != oracle.KindApp {
				t.Errorf("Expected app request, got %q", req.Kind)
			}
			for _, ex := range tt.excluded {
				for _, c := range req.Candidates {
					if c == ex {
						t.Errorf("Excluded package %q offered as candidate", ex)
					}
				}
			}
		})
	}
}

func TestRecommend_NoCandidatesSkipsOracle(t *testing.T) {
	called := false
	o := oracle.Func(func(ctx context.Context, req oracle.Request) (string, error) {
		called = true
		return `{"Package": "x"}`, nil
	})
	r := NewOracleRecommender(oracle.NewClient(o, nil, nil), nil)

	got, err := r.Recommend(context.Background(), &models.Task{}, []string{"a"}, []string{"a"})
	if err != nil || got != "" {
		t.Errorf("Expected no candidate, got %q, %v", got, err)
	}
	if called {
		t.Error("Oracle should not be asked without candidates")
	}
}

func TestRecommend_OracleFailure(t *testing.T) {
	_, err := recommender("", errors.New("rate limited"), nil).
		Recommend(context.Background(), &models.Task{}, []string{"a"}, nil)
	if !errors.Is(err, models.ErrDecisionFailure) {
		t.Errorf("Expected decision failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("Expected cause in error, got %v", err)
	}
}

func TestCandidates(t *testing.T) {
	got := Candidates([]string{"a", "b", "c"}, []string{"b"})
	if diff := cmp.Diff([]string{"a", "c"}, got); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

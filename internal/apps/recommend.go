// Package apps picks an installed app to relaunch when the current screen
// cannot serve the task.
package apps

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/oracle"
)

// Recommender proposes one package to launch. An empty package means there
// is no candidate left.
type Recommender interface {
	Recommend(ctx context.Context, task *models.Task, installed, excluded []string) (string, error)
}

// OracleRecommender asks the decision oracle to choose among installed
// packages.
type OracleRecommender struct {
	client *oracle.Client
	logger *slog.Logger
}

// NewOracleRecommender creates a recommender backed by c.
func NewOracleRecommender(c *oracle.Client, logger *slog.Logger) *OracleRecommender {
	return &OracleRecommender{client: c, logger: logging.OrDefault(logger).With("component", "apps")}
}

// Recommend returns a package from installed that is not excluded. A reply
// naming an unknown or excluded package is treated as no candidate.
func (r *OracleRecommender) Recommend(ctx context.Context, task *models.Task, installed, excluded []string) (string, error) {
	candidates := Candidates(installed, excluded)
	if len(candidates) == 0 {
		return "", nil
	}

	fields, _, err := r.client.Ask(ctx, oracle.Request{
		Kind:         oracle.KindApp,
		Task:         task.Goal(),
		Candidates:   candidates,
		ExcludedApps: excluded,
	})
	if err != nil {
		return "", err
	}

	pkg, _ := fields.First("Package", "App", "Package Name")
	pkg = strings.Trim(strings.TrimSpace(pkg), `"'`)
	if pkg == "" || strings.EqualFold(pkg, "none") {
		return "", nil
	}
	if !contains(candidates, pkg) {
		r.logger.Info("recommended package rejected", "task_id", task.ID, "package", pkg)
		return "", nil
	}
	return pkg, nil
}

// Candidates returns installed packages minus excluded, order preserved.
func Candidates(installed, excluded []string) []string {
	out := make([]string, 0, len(installed))
	for _, p := range installed {
		if !contains(excluded, p) {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

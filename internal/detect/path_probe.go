package detect

import (
	"context"
	"strings"
	"time"

	"github.com/rawblock/botwall-engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Path Probe Detector
//
// Vulnerability scanners walk a well-known shopping list of paths:
// admin panels, leaked env files, VCS metadata, PHP entry points. A
// request for any of them on a site that does not serve them is almost
// always automated reconnaissance.
// ──────────────────────────────────────────────────────────────────────

const pathProbeName = "path_probe"

// probePaths are exact-prefix matches against the request path.
var probePaths = []string{
	"/wp-admin", "/wp-login.php", "/wp-content", "/xmlrpc.php",
	"/.env", "/.git", "/.aws", "/.ssh",
	"/phpmyadmin", "/pma", "/adminer",
	"/config.php", "/configuration.php", "/web.config",
	"/backup", "/dump.sql", "/db.sql",
	"/cgi-bin", "/shell", "/vendor/phpunit",
	"/actuator", "/console", "/solr/admin",
}

// NewPathProbe builds the scanner-path detector.
func NewPathProbe() *Detector {
	return &Detector{
		Name:            pathProbeName,
		Category:        "Behavior",
		Priority:        25,
		Timeout:         10 * time.Millisecond,
		Enabled:         true,
		Optional:        false,
		RequiredSignals: []string{"request.path"},
		Detect:          detectPathProbe,
	}
}

func detectPathProbe(ctx context.Context, req *Request) ([]models.Contribution, error) {
	e, ok := req.Sink.First("request.path")
	if !ok {
		return nil, nil
	}
	path := strings.ToLower(e.String())

	for _, probe := range probePaths {
		if strings.HasPrefix(path, probe) {
			req.Sink.RaiseValue("path.probe_hit", req.SessionID, probe)
			c := contribution(pathProbeName, "Behavior", 0.7, 1.5, "Request for well-known scanner probe path")
			c.BotType = "scanner"
			c.Signals = map[string]string{"path.probe": probe}
			return []models.Contribution{c}, nil
		}
	}
	return nil, nil
}

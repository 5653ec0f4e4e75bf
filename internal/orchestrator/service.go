package orchestrator

import (
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/PentesterFlow/apiprober/internal/errors"
	"github.com/PentesterFlow/apiprober/internal/ledger"
	"github.com/PentesterFlow/apiprober/internal/scope"
)

// OpenService returns the Service for target, creating it on first use.
// A known base URL is re-activated rather than duplicated.
func OpenService(store ledger.Ledger, target, authMode string) (*ledger.Service, error) {
	u, err := scope.ParseTarget(target)
	if err != nil {
		return nil, errors.NewInvalidTargetError(target, err.Error())
	}
	base := u.String()
	if authMode == "" {
		authMode = "none"
	}

	services, err := store.Services()
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(services))
	for _, svc := range services {
		if svc.BaseURL == base {
			svc.Status = ledger.ServiceActive
			if authMode != "none" {
				svc.AuthMode = authMode
			}
			svc.UpdatedAt = time.Now()
			if err := store.PutService(svc); err != nil {
				return nil, err
			}
			return svc, nil
		}
		taken[svc.ID] = true
	}

	now := time.Now()
	svc := &ledger.Service{
		ID:        ServiceID(u.Hostname(), func(id string) bool { return taken[id] }),
		BaseURL:   base,
		AuthMode:  authMode,
		Status:    ledger.ServiceActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.PutService(svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// ServiceID derives a short ID from host: the registrable domain without
// its public suffix ("api.github.com" is "github"). When that is taken the
// dashed host is used, then the dashed host with a numeric suffix.
func ServiceID(host string, taken func(string) bool) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	dashed := strings.NewReplacer(".", "-", ":", "-").Replace(host)

	candidates := []string{dashed}
	if short := registrableLabel(host); short != "" && short != dashed {
		candidates = []string{short, dashed}
	}
	for _, id := range candidates {
		if !taken(id) {
			return id
		}
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s-%d", dashed, n)
		if !taken(id) {
			return id
		}
	}
}

func registrableLabel(host string) string {
	if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	label, _, _ := strings.Cut(domain, ".")
	return label
}

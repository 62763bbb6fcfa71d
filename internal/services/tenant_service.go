package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

const (
	tenantEventSetup           = "tenant.setup"
	tenantEventAlertsUpdated   = "tenant.alert_settings.updated"
	defaultOrderPrefix         = "ORD"
	maxDerivedPrefixLength     = 4
	maxExplicitPrefixLength    = 8
	defaultOrderNumberPadding  = 6
	maxTenantDisplayNameLength = 120
)

var (
	// ErrTenantInvalidInput indicates malformed setup or settings input.
	ErrTenantInvalidInput = errors.New("tenant: invalid input")
	// ErrTenantNotFound indicates the tenant has no settings record.
	ErrTenantNotFound = errors.New("tenant: not found")
	// ErrTenantAlreadyExists indicates setup already ran for the tenant.
	ErrTenantAlreadyExists = errors.New("tenant: already exists")
)

// TenantServiceDeps bundles collaborators required to construct the tenant service.
type TenantServiceDeps struct {
	Counters         repositories.CounterRepository
	Tenants          repositories.TenantRepository
	Alerts           LowStockDeduplicator
	Stock            repositories.StockRepository
	DefaultThreshold int
	Padding          int
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type tenantService struct {
	counters         repositories.CounterRepository
	tenants          repositories.TenantRepository
	alerts           LowStockDeduplicator
	stock            repositories.StockRepository
	defaultThreshold int
	padding          int
	clock            func() time.Time
	logger           func(context.Context, string, map[string]any)
}

var _ TenantService = (*tenantService)(nil)

// NewTenantService wires dependencies into a TenantService implementation.
func NewTenantService(deps TenantServiceDeps) (TenantService, error) {
	if deps.Counters == nil {
		return nil, errors.New("tenant service: counter repository is required")
	}
	if deps.Tenants == nil {
		return nil, errors.New("tenant service: tenant repository is required")
	}

	padding := deps.Padding
	if padding <= 0 {
		padding = defaultOrderNumberPadding
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &tenantService{
		counters:         deps.Counters,
		tenants:          deps.Tenants,
		alerts:           deps.Alerts,
		stock:            deps.Stock,
		defaultThreshold: deps.DefaultThreshold,
		padding:          padding,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// SetupTenant creates the order counter and settings once. The prefix is fixed from then on.
// A setup interrupted after the counter was written completes the missing settings on retry.
func (s *tenantService) SetupTenant(ctx context.Context, cmd SetupTenantCommand) (TenantSetup, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return TenantSetup{}, fmt.Errorf("%w: tenant id is required", ErrTenantInvalidInput)
	}
	if strings.ContainsAny(tenantID, ":/") {
		return TenantSetup{}, fmt.Errorf("%w: tenant id must not contain ':' or '/'", ErrTenantInvalidInput)
	}
	displayName := strings.TrimSpace(cmd.DisplayName)
	if len([]rune(displayName)) > maxTenantDisplayNameLength {
		return TenantSetup{}, fmt.Errorf("%w: display name exceeds %d characters", ErrTenantInvalidInput, maxTenantDisplayNameLength)
	}

	prefix, err := resolvePrefix(cmd.Prefix, displayName)
	if err != nil {
		return TenantSetup{}, err
	}
	threshold := s.defaultThreshold
	if cmd.LowStockThreshold != nil {
		if *cmd.LowStockThreshold < 0 {
			return TenantSetup{}, fmt.Errorf("%w: threshold must be >= 0", ErrTenantInvalidInput)
		}
		threshold = *cmd.LowStockThreshold
	}

	now := s.clock()
	counter := domain.TenantCounter{
		TenantID:  tenantID,
		Prefix:    prefix,
		Padding:   s.padding,
		UpdatedAt: now,
	}
	if err := s.counters.Create(ctx, counter); err != nil {
		if repositories.CounterErrorCodeOf(err) != repositories.CounterErrorAlreadyExists {
			return TenantSetup{}, s.mapCounterError(err)
		}
		if _, getErr := s.tenants.Get(ctx, tenantID); getErr == nil {
			return TenantSetup{}, fmt.Errorf("%w: %s", ErrTenantAlreadyExists, tenantID)
		} else if !isRepoNotFound(getErr) {
			return TenantSetup{}, getErr
		}
		existing, getErr := s.counters.Get(ctx, tenantID)
		if getErr != nil {
			return TenantSetup{}, s.mapCounterError(getErr)
		}
		counter = existing
	}

	settings := domain.TenantSettings{
		TenantID:              tenantID,
		DisplayName:           displayName,
		LowStockThreshold:     threshold,
		LowStockAlertsEnabled: !cmd.AlertsDisabled,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.tenants.Create(ctx, settings); err != nil {
		if isRepoConflict(err) {
			return TenantSetup{}, fmt.Errorf("%w: %s", ErrTenantAlreadyExists, tenantID)
		}
		return TenantSetup{}, err
	}

	s.logger(ctx, tenantEventSetup, map[string]any{
		"tenantId":  tenantID,
		"prefix":    counter.Prefix,
		"threshold": threshold,
	})
	return TenantSetup{Settings: settings, Counter: counter}, nil
}

func (s *tenantService) GetTenant(ctx context.Context, tenantID string) (TenantSettings, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return TenantSettings{}, fmt.Errorf("%w: tenant id is required", ErrTenantInvalidInput)
	}
	settings, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		if isRepoNotFound(err) {
			return TenantSettings{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return TenantSettings{}, err
	}
	return settings, nil
}

// UpdateAlertSettings stores the new threshold and re-evaluates the tenant's items so alerts converge immediately.
func (s *tenantService) UpdateAlertSettings(ctx context.Context, cmd UpdateAlertSettingsCommand) (TenantSettings, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return TenantSettings{}, fmt.Errorf("%w: tenant id is required", ErrTenantInvalidInput)
	}
	if cmd.Threshold < 0 {
		return TenantSettings{}, fmt.Errorf("%w: threshold must be >= 0", ErrTenantInvalidInput)
	}

	settings, err := s.tenants.UpdateAlertSettings(ctx, tenantID, cmd.Threshold, cmd.Enabled, s.clock())
	if err != nil {
		if isRepoNotFound(err) {
			return TenantSettings{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
		}
		return TenantSettings{}, err
	}

	s.logger(ctx, tenantEventAlertsUpdated, map[string]any{
		"tenantId":  tenantID,
		"threshold": settings.LowStockThreshold,
		"enabled":   settings.LowStockAlertsEnabled,
	})

	if s.alerts != nil && s.stock != nil {
		items, err := s.stock.ListItems(ctx, tenantID)
		if err != nil {
			s.logger(ctx, alertEventFailed, map[string]any{
				"tenantId": tenantID,
				"error":    err.Error(),
			})
			return settings, nil
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		s.alerts.EvaluateItems(ctx, tenantID, ids)
	}
	return settings, nil
}

func (s *tenantService) mapCounterError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
		return fmt.Errorf("%w: %s", ErrTenantInvalidInput, counterErr.Message)
	}
	return err
}

var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// resolvePrefix validates an explicit prefix or derives one from the display name.
func resolvePrefix(explicit, displayName string) (string, error) {
	if explicit = strings.ToUpper(strings.TrimSpace(explicit)); explicit != "" {
		if len(explicit) > maxExplicitPrefixLength {
			return "", fmt.Errorf("%w: prefix exceeds %d characters", ErrTenantInvalidInput, maxExplicitPrefixLength)
		}
		for _, r := range explicit {
			if !isPrefixRune(r) && r != '-' {
				return "", fmt.Errorf("%w: prefix may only contain A-Z, 0-9 and '-'", ErrTenantInvalidInput)
			}
		}
		return explicit, nil
	}
	return DerivePrefix(displayName), nil
}

// DerivePrefix folds the display name to ASCII and takes the upper-cased initial of each word.
// Single-word names use their leading characters instead. Names without usable characters yield ORD.
func DerivePrefix(displayName string) string {
	folded, _, err := transform.String(asciiFold, displayName)
	if err != nil {
		folded = displayName
	}
	folded = strings.ToUpper(folded)

	words := strings.FieldsFunc(folded, func(r rune) bool { return !isPrefixRune(r) })
	var b strings.Builder
	if len(words) == 1 {
		for _, r := range words[0] {
			if b.Len() == maxDerivedPrefixLength-1 {
				break
			}
			b.WriteRune(r)
		}
	} else {
		for _, word := range words {
			if b.Len() == maxDerivedPrefixLength {
				break
			}
			b.WriteRune([]rune(word)[0])
		}
	}
	if b.Len() == 0 {
		return defaultOrderPrefix
	}
	return b.String()
}

func isPrefixRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

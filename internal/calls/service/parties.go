package service

import (
	"context"
	"strings"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/internal/calls/normalizer"
	"agency_calls_backend/internal/calls/ports"

	"github.com/google/uuid"
)

const (
	lastDigitsMatch = 3
	minSuffixLength = 2
)

// resolveParties looks up customer, agent and reason hint for a new call.
// Every lookup is best-effort.
func (s *Service) resolveParties(ctx context.Context, tenantID uuid.UUID, ev normalizer.Event) parties {
	var out parties

	number := ev.CallerNumber
	if ev.Direction == domain.DirectionOutbound {
		number = ev.CalledNumber
	}

	if number != "" && s.directory != nil {
		customer, err := s.directory.FindCustomerByPhone(ctx, tenantID, number)
		if err != nil {
			s.log.Warn("customer lookup failed", "external_call_id", ev.ExternalCallID, "error", err)
		}
		out.customer = customer
	}

	if ev.Extension != "" {
		out.agent = s.resolveAgent(ctx, tenantID, ev.Extension)
	}

	if s.predictor != nil {
		pctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		defer cancel()
		var customerID *uuid.UUID
		if out.customer != nil {
			customerID = &out.customer.ID
		}
		reason, err := s.predictor.PredictReason(pctx, tenantID, customerID, number)
		if err != nil {
			s.log.Warn("reason prediction failed", "external_call_id", ev.ExternalCallID, "error", err)
		}
		out.reason = strings.TrimSpace(reason)
	}
	return out
}

// resolveAgent tries an exact extension first, then the in-memory tiers.
func (s *Service) resolveAgent(ctx context.Context, tenantID uuid.UUID, extension string) *ports.Agent {
	if s.directory == nil {
		return nil
	}
	agent, err := s.directory.FindAgentByExtension(ctx, tenantID, extension)
	if err != nil {
		s.log.Warn("agent lookup failed", "extension", extension, "error", err)
	}
	if agent != nil {
		return agent
	}

	agents, err := s.directory.ListAgents(ctx, tenantID)
	if err != nil {
		s.log.Warn("agent listing failed", "extension", extension, "error", err)
		return nil
	}
	return MatchAgent(extension, agents)
}

// MatchAgent resolves an extension against known agents: exact match, then
// the last three digits, then a suffix match either way. The first hit in
// agent order wins.
func MatchAgent(extension string, agents []ports.Agent) *ports.Agent {
	extension = strings.TrimSpace(extension)
	if extension == "" {
		return nil
	}

	for i := range agents {
		if agents[i].Extension == extension {
			return &agents[i]
		}
	}

	if len(extension) > lastDigitsMatch {
		last := extension[len(extension)-lastDigitsMatch:]
		for i := range agents {
			if agents[i].Extension == last {
				return &agents[i]
			}
		}
	}

	for i := range agents {
		known := agents[i].Extension
		if len(known) < minSuffixLength || len(extension) < minSuffixLength {
			continue
		}
		if strings.HasSuffix(extension, known) || strings.HasSuffix(known, extension) {
			return &agents[i]
		}
	}
	return nil
}

package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

const (
	eventSource         = "scholarship-verification"
	caseRecordedDetail  = "verification.case.recorded"
	caseRecordedVersion = 1
)

// CaseRecorded is the EventBridge detail emitted after a case is indexed.
type CaseRecorded struct {
	Version       int          `json:"version"`
	CaseID        string       `json:"case_id"`
	Origin        string       `json:"origin"` // "pipeline" or "admin"
	Metadata      CaseMetadata `json:"metadata"`
	NarrativeSize int          `json:"narrative_size"`
}

// EventPutter is the subset of the EventBridge client used here.
type EventPutter interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventPublisher announces recorded cases on an EventBridge bus.
type EventPublisher struct {
	client  EventPutter
	busName string
}

// NewEventPublisher returns nil when client is nil; Publish on a nil
// publisher is a no-op.
func NewEventPublisher(client EventPutter, busName string) *EventPublisher {
	if client == nil {
		return nil
	}
	return &EventPublisher{client: client, busName: busName}
}

// Publish emits one CaseRecorded event.
func (p *EventPublisher) Publish(ctx context.Context, hc HistoricalCase, origin string) error {
	if p == nil {
		return nil
	}

	detail, err := json.Marshal(CaseRecorded{
		Version:       caseRecordedVersion,
		CaseID:        hc.CaseID,
		Origin:        origin,
		Metadata:      hc.Metadata,
		NarrativeSize: len(hc.NarrativeText),
	})
	if err != nil {
		return fmt.Errorf("marshal CaseRecorded: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(eventSource),
		DetailType: aws.String(caseRecordedDetail),
		Detail:     aws.String(string(detail)),
	}
	if p.busName != "" {
		entry.EventBusName = aws.String(p.busName)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("caseId", hc.CaseID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("caseId", hc.CaseID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("caseId", hc.CaseID).Str("origin", origin).Msg("CaseRecorded emitted to EventBridge")
	return nil
}

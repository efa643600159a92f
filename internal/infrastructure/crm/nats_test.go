package crm

import (
	"context"
	"testing"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
)

func TestNATSClient_DisabledIsNoop(t *testing.T) {
	c, err := NewNATSClient(&config.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := c.SubmitLead(context.Background(), &entity.Lead{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || res.ContactID != "" {
		t.Fatalf("expected empty result, got %+v", res)
	}
	c.Close()
}

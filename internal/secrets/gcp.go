package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
)

// GCPSecretNames names the two Secret Manager entries a GCPProvider reads.
type GCPSecretNames struct {
	APIKey    string
	SecretKey string
}

// DefaultGCPSecretNames returns the conventional secret names for this venue.
func DefaultGCPSecretNames() GCPSecretNames {
	return GCPSecretNames{APIKey: "triarb-venue-api-key", SecretKey: "triarb-venue-api-secret"}
}

// GCPProvider resolves live-mode credentials from Google Secret Manager.
type GCPProvider struct {
	client    *secretmanager.Client
	projectID string
	names     GCPSecretNames
	log       *logrus.Entry
}

// NewGCPProvider opens a Secret Manager client scoped to projectID.
func NewGCPProvider(ctx context.Context, projectID string, names GCPSecretNames, log *logrus.Entry) (*GCPProvider, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secretmanager client: %w", err)
	}
	return &GCPProvider{client: client, projectID: projectID, names: names, log: log}, nil
}

// Resolve fetches both secret versions and trims surrounding whitespace.
func (g *GCPProvider) Resolve(ctx context.Context) (Credentials, error) {
	apiKey, err := g.fetch(ctx, g.names.APIKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("fetch api key secret: %w", err)
	}
	secretKey, err := g.fetch(ctx, g.names.SecretKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("fetch secret key secret: %w", err)
	}
	return Credentials{APIKey: apiKey, SecretKey: secretKey}, nil
}

func (g *GCPProvider) fetch(ctx context.Context, secretName string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, secretName)
	result, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", fmt.Errorf("access secret %s: %w", secretName, err)
	}
	return strings.TrimSpace(string(result.Payload.Data)), nil
}

// Close releases the underlying gRPC client.
func (g *GCPProvider) Close() error {
	return g.client.Close()
}

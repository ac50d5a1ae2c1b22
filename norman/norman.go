// Package norman defines the contracts between the bridging authorization
// server and the Norman data-tool layer. The tool implementations live
// elsewhere; this server only resolves credentials for them.
package norman

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
)

// Credential is the request-scoped Norman bearer credential resolved from a
// local access token. It is passed explicitly into every collaborator rather
// than published through ambient state.
type Credential struct {
	AccessToken string
}

// AuthorizationHeader renders the credential as an Authorization header value.
func (c Credential) AuthorizationHeader() string {
	return "Bearer " + c.AccessToken
}

// API is the generic request surface the per-endpoint data tools (clients,
// invoices, taxes, transactions, documents) are built on.
type API interface {
	Request(ctx context.Context, cred Credential, method, path string, params url.Values, body any) (json.RawMessage, error)
}

// Uploader is the file-upload side channel for document attachments.
type Uploader interface {
	Upload(ctx context.Context, cred Credential, path, filename string, content io.Reader) (json.RawMessage, error)
}

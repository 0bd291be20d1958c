// Package parley provides a client for the Parley conversation sync API.
package parley

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a Parley API client bound to one viewer identity.
type Client struct {
	BaseURL    string
	ViewerID   string
	HTTPClient *http.Client
}

// NewClient creates a new Parley client. viewerID is the UUID of the
// account on whose behalf requests are made.
func NewClient(baseURL, viewerID string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &Client{
		BaseURL:    baseURL,
		ViewerID:   viewerID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request.
func (c *Client) doRequest(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Parley-User", c.ViewerID)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("parley error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// Profile is a participant's denormalized summary.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Conversation is a two-party conversation. ID is empty while the
// conversation is pending, before the first message is delivered.
type Conversation struct {
	ID               string  `json:"id,omitempty"`
	ParticipantOneID string  `json:"participant_one_id"`
	ParticipantTwoID string  `json:"participant_two_id"`
	OtherParticipant Profile `json:"other_participant"`
	CreatedAt        string  `json:"created_at,omitempty"`
}

// Message is one message row. Local messages carry a "local-" prefixed id
// until delivery confirms.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	Content        string            `json:"content"`
	SentAt         time.Time         `json:"sent_at"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
	DeliveryStatus string            `json:"delivery_status"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// ConversationView is the viewer's active conversation state.
type ConversationView struct {
	Conversation *Conversation `json:"conversation,omitempty"`
	Messages     []Message     `json:"messages"`
	HasMore      bool          `json:"has_more"`
	Unread       int64         `json:"unread"`
	Draft        string        `json:"draft,omitempty"`
}

// Open switches the viewer's session to the conversation with the given
// peer and returns the newest page of messages plus any saved draft.
func (c *Client) Open(peerID string) (*ConversationView, error) {
	respBody, err := c.doRequest("POST", "/conversations/"+peerID+"/open", nil)
	if err != nil {
		return nil, err
	}

	var view ConversationView
	if err := json.Unmarshal(respBody, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Messages returns the current message window.
func (c *Client) Messages() (*ConversationView, error) {
	return c.messages("")
}

// LoadOlder loads one older page into the window and returns the result.
func (c *Client) LoadOlder() (*ConversationView, error) {
	return c.messages("?before=1")
}

func (c *Client) messages(query string) (*ConversationView, error) {
	respBody, err := c.doRequest("GET", "/conversations/messages"+query, nil)
	if err != nil {
		return nil, err
	}

	var view ConversationView
	if err := json.Unmarshal(respBody, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// SendRequest is the request body for sending a message.
type SendRequest struct {
	Content string `json:"content"`
}

// Send submits a message in the active conversation.
func (c *Client) Send(content string) (*Message, error) {
	body, _ := json.Marshal(SendRequest{Content: content})
	respBody, err := c.doRequest("POST", "/conversations/messages", body)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Retry resubmits a failed message identified by its local id.
func (c *Client) Retry(localID string) (*Message, error) {
	respBody, err := c.doRequest("POST", "/conversations/messages/"+localID+"/retry", nil)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead flushes batched read receipts immediately and returns the new
// unread total.
func (c *Client) MarkRead() (int64, error) {
	respBody, err := c.doRequest("POST", "/conversations/read", nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Unread int64 `json:"unread"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, err
	}
	return resp.Unread, nil
}

// DraftRequest is the request body for draft updates.
type DraftRequest struct {
	Text string `json:"text"`
}

// SaveDraft updates the compose text. An empty text clears the draft.
func (c *Client) SaveDraft(text string) error {
	body, _ := json.Marshal(DraftRequest{Text: text})
	_, err := c.doRequest("PUT", "/conversations/draft", body)
	return err
}

// HealthResponse is the health endpoint response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

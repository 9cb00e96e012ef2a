package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/flockml/flock/pkg/db/models"
)

// clientService talks to the HTTP surface every remote participant
// exposes: an auth probe, a token endpoint, and start/check_status/stop
// operations keyed by run identifier.
type clientService struct {
	httpc    *http.Client
	username string
}

// startParams is what a client needs to join a training run.
type startParams struct {
	ServerAddress string
	ClientType    string
	DataPath      string
	RedisHost     string
	RedisPort     int
}

// probe checks connectivity with an existing token. Only a 200 counts.
func (c *clientService) probe(ctx context.Context, addr, token string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/client/connect", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// authenticate requests a fresh token from the client's own auth endpoint,
// presenting the stored (already obscured) credential as the password.
func (c *clientService) authenticate(ctx context.Context, ci models.ClientInfo) (string, error) {
	form := url.Values{
		"username": {c.username},
		"password": {ci.HashedPassword},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		ci.ServiceAddress+"/client/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("auth endpoint returned no token")
	}
	return body.AccessToken, nil
}

// start asks the client to join the run and returns the client's run
// identifier. A non-200 response or a missing identifier is an error.
func (c *clientService) start(ctx context.Context, ci models.ClientInfo, token string, params startParams) (string, error) {
	q := url.Values{
		"server_address": {params.ServerAddress},
		"client_type":    {params.ClientType},
		"data_path":      {params.DataPath},
		"redis_host":     {params.RedisHost},
		"redis_port":     {strconv.Itoa(params.RedisPort)},
	}

	var body struct {
		UUID string `json:"uuid"`
	}
	if err := c.getJSON(ctx, ci.ServiceAddress+"/client/start?"+q.Encode(), token, &body); err != nil {
		return "", err
	}
	if body.UUID == "" {
		return "", fmt.Errorf("start response carried no run identifier")
	}
	return body.UUID, nil
}

// checkStatus fetches the client's final metrics for a run.
func (c *clientService) checkStatus(ctx context.Context, ci models.ClientInfo, token, runID string) (json.RawMessage, error) {
	var body json.RawMessage
	if err := c.getJSON(ctx, ci.ServiceAddress+"/client/check_status/"+runID, token, &body); err != nil {
		return nil, err
	}
	return body, nil
}

// stop asks the client to terminate its part of a run.
func (c *clientService) stop(ctx context.Context, ci models.ClientInfo, token, runID string) error {
	var body json.RawMessage
	return c.getJSON(ctx, ci.ServiceAddress+"/client/stop/"+runID, token, &body)
}

func (c *clientService) getJSON(ctx context.Context, rawURL, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("client returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

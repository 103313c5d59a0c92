package adapter

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/EricMurray-e-m-dev/DumpItAll/internal/engine"
	"github.com/EricMurray-e-m-dev/DumpItAll/internal/models"
)

// maxBody bounds how much of an HTTP response is read.
const maxBody = 8 << 20

type ElasticsearchProber struct {
	Client *http.Client
}

func (p *ElasticsearchProber) Probe(ctx context.Context, t Target) (*Result, error) {
	base := baseURL(t)

	status, body, err := httpGet(ctx, p.Client, t, base+"/")
	if err != nil {
		return failedResult(false, false), err
	}
	if status == http.StatusUnauthorized {
		return failedResult(false, true), fmt.Errorf("%w: unauthorized", ErrNotIdentified)
	}
	lower := strings.ToLower(string(body))
	if status != http.StatusOK || !(strings.Contains(lower, "elasticsearch") || strings.Contains(lower, "you know, for search")) {
		return failedResult(false, false), ErrNotIdentified
	}

	res := &Result{
		Identified:       true,
		ConnectionTested: true,
		AuthMethod:       httpAuth(t.Credentials),
	}

	status, body, err = httpGet(ctx, p.Client, t, base+"/_cat/indices?format=json&h=index")
	if err != nil || status != http.StatusOK {
		return res, nil
	}

	var indices []struct {
		Index string `json:"index"`
	}
	if err := json.Unmarshal(body, &indices); err != nil {
		return res, nil
	}

	names := make([]string, 0, len(indices))
	for _, idx := range indices {
		names = append(names, idx.Index)
	}
	res.Databases = engine.FilterDatabases(engine.Elasticsearch, names)
	return res, nil
}

type CouchDBProber struct {
	Client *http.Client
}

func (p *CouchDBProber) Probe(ctx context.Context, t Target) (*Result, error) {
	base := baseURL(t)

	status, body, err := httpGet(ctx, p.Client, t, base+"/")
	if err != nil {
		return failedResult(false, false), err
	}
	if status != http.StatusOK || !strings.Contains(strings.ToLower(string(body)), "couchdb") {
		return failedResult(false, false), ErrNotIdentified
	}

	res := &Result{
		Identified:       true,
		ConnectionTested: true,
		AuthMethod:       httpAuth(t.Credentials),
	}

	status, body, err = httpGet(ctx, p.Client, t, base+"/_all_dbs")
	switch {
	case err != nil:
		return res, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		res.AuthMethod = models.AuthRequired
		res.ConnectionTested = false
		return res, nil
	case status != http.StatusOK:
		return res, nil
	}

	var names []string
	if err := json.Unmarshal(body, &names); err == nil {
		res.Databases = engine.FilterDatabases(engine.CouchDB, names)
	}
	return res, nil
}

func baseURL(t Target) string {
	return "http://" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func httpAuth(creds models.ResolvedCredentials) models.AuthMethod {
	if creds.Password != "" {
		return models.AuthPassword
	}
	return models.AuthNone
}

func httpGet(ctx context.Context, client *http.Client, t Target, url string) (int, []byte, error) {
	if client == nil {
		client = &http.Client{Timeout: t.Timeout}
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if t.Credentials.User != "" && t.Credentials.Password != "" {
		req.SetBasicAuth(t.Credentials.User, t.Credentials.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// ManualProber covers engines without a bundled client. The port alone
// identifies them.
type ManualProber struct {
	Product string
}

func (p *ManualProber) Probe(ctx context.Context, t Target) (*Result, error) {
	return &Result{
		Identified: true,
		AuthMethod: models.AuthUnknown,
		Note:       p.Product + " detected by port, manual configuration required",
	}, nil
}

package backup

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// esPageSize is the number of documents fetched per scroll page.
	esPageSize  = 1000
	esScrollTTL = "1m"
)

type esPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total esTotal           `json:"total"`
		Hits  []json.RawMessage `json:"hits"`
	} `json:"hits"`
}

// esTotal accepts both the 6.x integer and the 7.x+ object form of hits.total.
type esTotal struct {
	Value    int64
	Relation string
}

func (t *esTotal) UnmarshalJSON(b []byte) error {
	if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
		t.Value, t.Relation = n, "eq"
		return nil
	}
	var obj struct {
		Value    int64  `json:"value"`
		Relation string `json:"relation"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	t.Value, t.Relation = obj.Value, obj.Relation
	return nil
}

// exportElasticsearch walks the whole index with the scroll API and writes
// {"index": ..., "hits": [...]} to the artifact path.
func (d *Dispatcher) exportElasticsearch(ctx context.Context, j job) (err error) {
	base := d.baseURL(j)

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", j.path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to write %s: %w", j.path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	index, _ := json.Marshal(j.database)
	fmt.Fprintf(w, `{"index":%s,"hits":[`, index)

	first := base + "/" + url.PathEscape(j.database) + "/_search?scroll=" + esScrollTTL + "&size=" + strconv.Itoa(esPageSize)
	body, err := d.request(ctx, j, http.MethodPost, first, []byte(`{"sort":["_doc"]}`))
	if err != nil {
		return err
	}

	var (
		exported int64
		total    esTotal
		scrollID string
	)
	defer func() {
		if scrollID != "" {
			d.clearScroll(j, base, scrollID)
		}
	}()

	for {
		var page esPage
		if err := json.Unmarshal(body, &page); err != nil {
			return fmt.Errorf("export from %s is not JSON: %w", j.inst.Key(), err)
		}
		if exported == 0 {
			total = page.Hits.Total
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
		if len(page.Hits.Hits) == 0 {
			break
		}

		for _, hit := range page.Hits.Hits {
			if exported > 0 {
				w.WriteByte(',')
			}
			w.Write(hit)
			exported++
		}

		if scrollID == "" {
			break
		}
		next, _ := json.Marshal(map[string]string{"scroll": esScrollTTL, "scroll_id": scrollID})
		body, err = d.request(ctx, j, http.MethodPost, base+"/_search/scroll", next)
		if err != nil {
			return err
		}
	}

	w.WriteString("]}\n")
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", j.path, err)
	}

	if exported < total.Value {
		log.Warn().
			Str("instance", j.inst.Key()).
			Str("index", j.database).
			Int64("exported", exported).
			Int64("total", total.Value).
			Msg("Elasticsearch export has fewer documents than the index reported")
	} else {
		log.Debug().Str("index", j.database).Int64("documents", exported).Msg("Elasticsearch index exported")
	}
	return nil
}

// clearScroll releases the server-side scroll context, best effort.
func (d *Dispatcher) clearScroll(j job, base, scrollID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, _ := json.Marshal(map[string][]string{"scroll_id": {scrollID}})
	if _, err := d.request(ctx, j, http.MethodDelete, base+"/_search/scroll", payload); err != nil {
		log.Debug().Err(err).Str("instance", j.inst.Key()).Msg("Failed to clear Elasticsearch scroll")
	}
}

func (d *Dispatcher) exportCouchDB(ctx context.Context, j job) error {
	u := d.baseURL(j) + "/" + url.PathEscape(j.database) + "/_all_docs?include_docs=true"
	return d.exportJSON(ctx, j, u)
}

func (d *Dispatcher) baseURL(j job) string {
	return "http://" + net.JoinHostPort(j.inst.Host, strconv.Itoa(j.inst.Port))
}

// exportJSON stores the response body after checking it is valid JSON.
func (d *Dispatcher) exportJSON(ctx context.Context, j job, u string) error {
	body, err := d.request(ctx, j, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if !json.Valid(body) {
		return fmt.Errorf("export from %s is not JSON", j.inst.Key())
	}

	if err := os.WriteFile(j.path, body, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", j.path, err)
	}
	return nil
}

// request sends one authenticated call and returns the body of a 200 reply.
func (d *Dispatcher) request(ctx context.Context, j job, method, u string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if j.creds.Password != "" {
		req.SetBasicAuth(j.creds.User, j.creds.Password)
	}

	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("export returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	return body, nil
}

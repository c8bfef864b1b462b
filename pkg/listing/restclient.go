package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MaxPageSize is the largest page the listing endpoint serves.
const MaxPageSize = 5000

// TransportError is returned for any failed page fetch: network errors,
// non-2xx responses, undecodable bodies and provider error codes.
type TransportError struct {
	StatusCode   int    // HTTP status, 0 if the request never completed
	ProviderCode string // status.errorCode when the provider rejected the call
	Err          error
}

func (e *TransportError) Error() string {
	switch {
	case e.ProviderCode != "":
		return fmt.Sprintf("listing provider error %s: %v", e.ProviderCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("listing http %d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("listing request: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err came from a failed page fetch.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type RESTClient struct {
	baseURL    string
	convert    []string
	timeout    time.Duration
	httpClient *http.Client
}

// NewRESTClient builds a client for baseURL. timeout bounds each page
// request; convert lists the quote currencies requested per listing.
func NewRESTClient(baseURL string, timeout time.Duration, convert []string) *RESTClient {
	if len(convert) == 0 {
		convert = []string{"USD"}
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		convert:    convert,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (c *RESTClient) HTTPClient() *http.Client {
	return c.httpClient
}

// FetchPage fetches one page of listings ranked by market cap. start is 1-indexed.
// On any failure it returns a *TransportError and no records.
func (c *RESTClient) FetchPage(ctx context.Context, start, limit int) ([]RawListing, error) {
	if start < 1 {
		start = 1
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	params := url.Values{}
	params.Set("start", strconv.Itoa(start))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sortBy", "rank")
	params.Set("sortType", "desc")
	params.Set("convert", strings.Join(c.convert, ","))
	endpoint := c.baseURL + "/listing?" + params.Encode()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("making request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if parsed.Status.Failed() {
		return nil, &TransportError{
			StatusCode:   resp.StatusCode,
			ProviderCode: parsed.Status.Code(),
			Err:          errors.New(parsed.Status.Message()),
		}
	}

	return parsed.Data.CryptoCurrencyList, nil
}

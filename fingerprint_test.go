package kemudi

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	config := &RequestConfig{
		Method: "GET",
		URL:    "https://api.example.com/users",
		Params: map[string]string{"page": "1", "limit": "50"},
	}

	first := Fingerprint(config, DefaultKeyFields())
	for i := 0; i < 10; i++ {
		if got := Fingerprint(config, DefaultKeyFields()); got != first {
			t.Fatalf("Fingerprint not deterministic: %s vs %s", got, first)
		}
	}
}

func TestFingerprintParamOrderIndependent(t *testing.T) {
	a := &RequestConfig{
		Method: "GET",
		URL:    "https://api.example.com/users",
		Params: map[string]string{"a": "1", "b": "2", "c": "3"},
	}
	b := &RequestConfig{
		Method: "GET",
		URL:    "https://api.example.com/users",
		Params: map[string]string{"c": "3", "a": "1", "b": "2"},
	}

	if Fingerprint(a, DefaultKeyFields()) != Fingerprint(b, DefaultKeyFields()) {
		t.Error("Fingerprint must be independent of map construction order")
	}
}

func TestFingerprintDistinguishesRequests(t *testing.T) {
	base := &RequestConfig{Method: "GET", URL: "https://api.example.com/users"}
	fields := DefaultKeyFields()
	baseFP := Fingerprint(base, fields)

	variants := []*RequestConfig{
		{Method: "POST", URL: "https://api.example.com/users"},
		{Method: "GET", URL: "https://api.example.com/orders"},
		{Method: "GET", URL: "https://api.example.com/users", Params: map[string]string{"page": "2"}},
	}
	for _, v := range variants {
		if Fingerprint(v, fields) == baseFP {
			t.Errorf("Variant %+v should not collide with the base request", v)
		}
	}
}

func TestFingerprintFieldSelection(t *testing.T) {
	a := &RequestConfig{
		Method:  "POST",
		URL:     "https://api.example.com/users",
		Body:    []byte(`{"name":"a"}`),
		Headers: map[string]string{"X-Trace": "1"},
	}
	b := &RequestConfig{
		Method:  "POST",
		URL:     "https://api.example.com/users",
		Body:    []byte(`{"name":"b"}`),
		Headers: map[string]string{"X-Trace": "2"},
	}

	// Default fields ignore body and headers, so these collapse together.
	if Fingerprint(a, DefaultKeyFields()) != Fingerprint(b, DefaultKeyFields()) {
		t.Error("Default key fields should ignore body and headers")
	}

	withBody := KeyFields{Method: true, URL: true, Body: true}
	if Fingerprint(a, withBody) == Fingerprint(b, withBody) {
		t.Error("Body-sensitive fingerprints should differ")
	}

	withHeaders := KeyFields{Method: true, URL: true, Headers: true}
	if Fingerprint(a, withHeaders) == Fingerprint(b, withHeaders) {
		t.Error("Header-sensitive fingerprints should differ")
	}
}

func TestFingerprintEmptyConfig(t *testing.T) {
	fp := Fingerprint(&RequestConfig{}, DefaultKeyFields())
	if fp == "" {
		t.Error("Fingerprint of an empty config should still be non-empty")
	}
}

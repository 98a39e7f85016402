package bot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouter_Health(t *testing.T) {
	app := newTestApp(t, nil, "")
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestRouter_Status(t *testing.T) {
	app := newTestApp(t, map[string]string{"101": "https://cdn/101.png"}, "")
	app.Dispatcher.Attach("tg", &stubChannel{})
	handle(t, app, command("42", "start"))
	handle(t, app, action(testAdmin, "admin:toggle"))

	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Items != 2 || st.Images != 1 || st.Users != 1 || st.Enabled {
		t.Fatalf("status: %+v", st)
	}
	if len(st.Channels) != 1 || st.Channels[0].Name != "tg" {
		t.Fatalf("channels: %+v", st.Channels)
	}
}

func TestRouter_Search(t *testing.T) {
	app := newTestApp(t, map[string]string{"101": "https://cdn/101.png"}, "")
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/search?q=HEAL")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var res SearchResult
	json.NewDecoder(resp.Body).Decode(&res)
	if !res.Found || res.Item.ID != "101" || res.ImageURL != "https://cdn/101.png" {
		t.Fatalf("result: %+v", res)
	}
}

func TestRouter_SearchMissAndEmpty(t *testing.T) {
	app := newTestApp(t, nil, "")
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/search?q=nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("miss: %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/search?q=%20")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty: %d, want 400", resp.StatusCode)
	}
}

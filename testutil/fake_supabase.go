// Package testutil provides an in-process stand-in for the Supabase REST, RPC and
// Storage endpoints used by the toolkit.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	ServiceKey = "test-service-role-key"
	AnonKey    = "test-anon-key"
)

// Row is one table row as decoded from JSON.
type Row = map[string]interface{}

// RPCHandler answers /rest/v1/rpc/<fn>. A non-nil *RPCError is returned as a PostgREST
// error body.
type RPCHandler func(params map[string]interface{}) (interface{}, *RPCError)

// RPCError is sent back as {"code","message"} with Status.
type RPCError struct {
	Status  int
	Code    string
	Message string
}

type storedObject struct {
	data        []byte
	contentType string
}

// FakeSupabase is a minimal PostgREST + Storage emulator backed by in-memory maps.
type FakeSupabase struct {
	Server *httptest.Server

	mu         sync.Mutex
	tables     map[string][]Row
	unique     map[string][][]string
	anonHidden map[string]bool
	rpcs       map[string]RPCHandler
	objects    map[string]storedObject
	extra      map[string]http.HandlerFunc
	requests   []string
	failNext   map[string]int
	rpcCalls   map[string]int
	maxRows    int
}

// NewFakeSupabase starts the server and closes it when the test ends.
func NewFakeSupabase(t testing.TB) *FakeSupabase {
	t.Helper()
	fs := &FakeSupabase{
		tables:     map[string][]Row{},
		unique:     map[string][][]string{},
		anonHidden: map[string]bool{},
		rpcs:       map[string]RPCHandler{},
		objects:    map[string]storedObject{},
		extra:      map[string]http.HandlerFunc{},
		failNext:   map[string]int{},
		rpcCalls:   map[string]int{},
	}

	r := mux.NewRouter()
	r.HandleFunc("/storage/v1/object/public/{bucket}/{path:.*}", fs.handlePublicObject).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/storage/v1/object/list/{bucket}", fs.auth(fs.handleListObjects)).Methods(http.MethodPost)
	r.HandleFunc("/storage/v1/object/{bucket}", fs.auth(fs.handleDeleteObjects)).Methods(http.MethodDelete)
	r.HandleFunc("/storage/v1/object/{bucket}/{path:.*}", fs.auth(fs.handleUpload)).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/storage/v1/object/{bucket}/{path:.*}", fs.auth(fs.handleDownload)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/rest/v1/rpc/{fn}", fs.auth(fs.handleRPC)).Methods(http.MethodPost)
	r.HandleFunc("/rest/v1/{table}", fs.auth(fs.handleSelect)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/rest/v1/{table}", fs.auth(fs.handleInsert)).Methods(http.MethodPost)
	r.HandleFunc("/rest/v1/{table}", fs.auth(fs.handleUpdate)).Methods(http.MethodPatch)
	r.HandleFunc("/rest/v1/{table}", fs.auth(fs.handleDelete)).Methods(http.MethodDelete)
	r.NotFoundHandler = http.HandlerFunc(fs.handleExtra)

	fs.Server = httptest.NewServer(r)
	t.Cleanup(fs.Server.Close)
	return fs
}

// SetMaxRows caps every select response like PostgREST's db-max-rows.
func (fs *FakeSupabase) SetMaxRows(n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.maxRows = n
}

// URL is the project URL to put in SUPABASE_URL.
func (fs *FakeSupabase) URL() string { return fs.Server.URL }

// Seed appends rows to a table, assigning ids where missing.
func (fs *FakeSupabase) Seed(table string, rows ...Row) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.tables[table]; !ok {
		fs.tables[table] = []Row{}
	}
	for _, r := range rows {
		fs.tables[table] = append(fs.tables[table], withID(copyRow(r)))
	}
}

// EnsureTable makes an empty table exist so selects return [] instead of 404.
func (fs *FakeSupabase) EnsureTable(tables ...string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, t := range tables {
		if _, ok := fs.tables[t]; !ok {
			fs.tables[t] = []Row{}
		}
	}
}

// Rows returns a copy of a table's rows.
func (fs *FakeSupabase) Rows(table string) []Row {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]Row, 0, len(fs.tables[table]))
	for _, r := range fs.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Unique declares a unique constraint used by inserts and on_conflict upserts.
func (fs *FakeSupabase) Unique(table string, cols ...string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.unique[table] = append(fs.unique[table], cols)
}

// HideFromAnon makes anon-key selects on the table return no rows, like an RLS policy would.
func (fs *FakeSupabase) HideFromAnon(tables ...string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, t := range tables {
		fs.anonHidden[t] = true
	}
}

// HandleRPC registers a function under /rest/v1/rpc/<name>.
func (fs *FakeSupabase) HandleRPC(name string, h RPCHandler) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.rpcs[name] = h
}

// RPCCalls reports how many times a function was called.
func (fs *FakeSupabase) RPCCalls(name string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.rpcCalls[name]
}

// Handle serves an arbitrary path (retailer pages, image CDNs, site pages).
func (fs *FakeSupabase) Handle(path string, h http.HandlerFunc) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.extra[path] = h
}

// FailNext makes the next n requests whose "METHOD path" starts with prefix answer 503.
func (fs *FakeSupabase) FailNext(prefix string, n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failNext[prefix] = n
}

// Requests lists "METHOD path?query" for every request served.
func (fs *FakeSupabase) Requests() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.requests...)
}

// PutObject stores an object directly.
func (fs *FakeSupabase) PutObject(bucket, path string, data []byte, contentType string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.objects[bucket+"/"+path] = storedObject{data: data, contentType: contentType}
}

// Object returns a stored object.
func (fs *FakeSupabase) Object(bucket, path string) ([]byte, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	o, ok := fs.objects[bucket+"/"+path]
	return o.data, ok
}

// ObjectKeys lists stored "bucket/path" keys, sorted.
func (fs *FakeSupabase) ObjectKeys() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	keys := make([]string, 0, len(fs.objects))
	for k := range fs.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (fs *FakeSupabase) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("apikey")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if key != ServiceKey && key != AnonKey {
			writeError(w, http.StatusUnauthorized, "", "Invalid API key")
			return
		}

		fs.mu.Lock()
		fs.requests = append(fs.requests, r.Method+" "+r.URL.RequestURI())
		sig := r.Method + " " + r.URL.Path
		for prefix, n := range fs.failNext {
			if n > 0 && strings.HasPrefix(sig, prefix) {
				fs.failNext[prefix] = n - 1
				fs.mu.Unlock()
				writeError(w, http.StatusServiceUnavailable, "", "upstream unavailable")
				return
			}
		}
		fs.mu.Unlock()

		next(w, r)
	}
}

func (fs *FakeSupabase) isAnon(r *http.Request) bool {
	return r.Header.Get("apikey") == AnonKey
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (fs *FakeSupabase) handleExtra(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	h, ok := fs.extra[r.URL.Path]
	fs.requests = append(fs.requests, r.Method+" "+r.URL.RequestURI())
	fs.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

// --- PostgREST ---

type filter struct {
	col    string
	negate bool
	op     string
	val    string
}

var reserved = map[string]bool{"select": true, "order": true, "limit": true, "offset": true, "on_conflict": true, "columns": true}

func parseFilters(q url.Values) ([]filter, error) {
	var out []filter
	for col, vals := range q {
		if reserved[col] {
			continue
		}
		for _, v := range vals {
			f := filter{col: col}
			if strings.HasPrefix(v, "not.") {
				f.negate = true
				v = strings.TrimPrefix(v, "not.")
			}
			dot := strings.Index(v, ".")
			if dot < 0 {
				return nil, fmt.Errorf("bad filter %s=%s", col, v)
			}
			f.op, f.val = v[:dot], v[dot+1:]
			out = append(out, f)
		}
	}
	return out, nil
}

func valueString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func compare(a interface{}, b string) int {
	as := valueString(a)
	af, errA := strconv.ParseFloat(as, 64)
	bf, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(as, b)
}

func splitInList(s string) []string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	var out []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && inQuote && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 || len(out) > 0 {
		out = append(out, cur.String())
	}
	return out
}

func likeToRegexp(pattern string, caseInsensitive bool) *regexp.Regexp {
	var b strings.Builder
	if caseInsensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("^")
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '*', '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func (f filter) match(row Row) bool {
	v, present := row[f.col]
	var ok bool
	switch f.op {
	case "eq":
		ok = present && v != nil && valueString(v) == f.val
	case "neq":
		ok = present && v != nil && valueString(v) != f.val
	case "gt":
		ok = v != nil && compare(v, f.val) > 0
	case "gte":
		ok = v != nil && compare(v, f.val) >= 0
	case "lt":
		ok = v != nil && compare(v, f.val) < 0
	case "lte":
		ok = v != nil && compare(v, f.val) <= 0
	case "like", "ilike":
		ok = v != nil && likeToRegexp(f.val, f.op == "ilike").MatchString(valueString(v))
	case "is":
		switch f.val {
		case "null":
			ok = v == nil
		case "true":
			ok = v == true
		case "false":
			ok = v == false
		}
	case "in":
		if v != nil {
			for _, item := range splitInList(f.val) {
				if valueString(v) == item {
					ok = true
					break
				}
			}
		}
	}
	if f.negate {
		return !ok
	}
	return ok
}

func matchAll(filters []filter, row Row) bool {
	for _, f := range filters {
		if !f.match(row) {
			return false
		}
	}
	return true
}

func project(row Row, sel string) Row {
	if sel == "" || sel == "*" || strings.Contains(sel, "(") {
		return copyRow(row)
	}
	out := Row{}
	for _, c := range strings.Split(sel, ",") {
		c = strings.TrimSpace(c)
		out[c] = row[c]
	}
	return out
}

func sortRows(rows []Row, order string) {
	if order == "" {
		return
	}
	keys := strings.Split(order, ",")
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			parts := strings.Split(k, ".")
			col := parts[0]
			desc := len(parts) > 1 && parts[1] == "desc"
			c := compare(rows[i][col], valueString(rows[j][col]))
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func (fs *FakeSupabase) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	q := r.URL.Query()
	filters, err := parseFilters(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return
	}

	fs.mu.Lock()
	rows, exists := fs.tables[table]
	hidden := fs.anonHidden[table] && fs.isAnon(r)
	maxRows := fs.maxRows
	var matched []Row
	for _, row := range rows {
		if matchAll(filters, row) {
			matched = append(matched, copyRow(row))
		}
	}
	fs.mu.Unlock()

	if !exists {
		writeError(w, http.StatusNotFound, "42P01", fmt.Sprintf("relation \"public.%s\" does not exist", table))
		return
	}
	if hidden {
		matched = nil
	}

	sortRows(matched, q.Get("order"))
	total := len(matched)

	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n < len(matched) {
			matched = matched[:n]
		}
	}
	if maxRows > 0 && maxRows < len(matched) {
		matched = matched[:maxRows]
	}

	out := make([]Row, 0, len(matched))
	for _, row := range matched {
		out = append(out, project(row, q.Get("select")))
	}

	if strings.Contains(r.Header.Get("Prefer"), "count=exact") {
		if len(out) == 0 {
			w.Header().Set("Content-Range", fmt.Sprintf("*/%d", total))
		} else {
			w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", offset, offset+len(out)-1, total))
		}
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeRows(r *http.Request) ([]Row, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) > 0 && body[0] == '[' {
		var rows []Row
		return rows, json.Unmarshal(body, &rows)
	}
	var row Row
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, err
	}
	return []Row{row}, nil
}

func sameKey(a, b Row, cols []string) bool {
	for _, c := range cols {
		if a[c] == nil || valueString(a[c]) != valueString(b[c]) {
			return false
		}
	}
	return true
}

func (fs *FakeSupabase) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	rows, err := decodeRows(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", err.Error())
		return
	}
	prefer := r.Header.Get("Prefer")
	merge := strings.Contains(prefer, "resolution=merge-duplicates")
	ignore := strings.Contains(prefer, "resolution=ignore-duplicates")
	var conflictCols []string
	if oc := r.URL.Query().Get("on_conflict"); oc != "" {
		conflictCols = strings.Split(oc, ",")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	constraints := append([][]string{{"id"}}, fs.unique[table]...)
	if conflictCols == nil {
		conflictCols = []string{"id"}
	}
	var written []Row
	for _, in := range rows {
		in = withID(copyRow(in))
		existing := -1
		if merge || ignore {
			for i, cur := range fs.tables[table] {
				if sameKey(cur, in, conflictCols) {
					existing = i
					break
				}
			}
		}
		if existing >= 0 {
			if ignore {
				continue
			}
			cur := fs.tables[table][existing]
			for k, v := range in {
				if k == "id" {
					continue
				}
				cur[k] = v
			}
			written = append(written, copyRow(cur))
			continue
		}
		for _, cols := range constraints {
			for _, cur := range fs.tables[table] {
				if sameKey(cur, in, cols) {
					writeError(w, http.StatusConflict, "23505",
						fmt.Sprintf("duplicate key value violates unique constraint on (%s)", strings.Join(cols, ", ")))
					return
				}
			}
		}
		fs.tables[table] = append(fs.tables[table], in)
		written = append(written, copyRow(in))
	}

	if strings.Contains(prefer, "return=representation") {
		writeJSON(w, http.StatusCreated, written)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (fs *FakeSupabase) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return
	}
	rows, err := decodeRows(r)
	if err != nil || len(rows) != 1 {
		writeError(w, http.StatusBadRequest, "PGRST102", "patch body must be one object")
		return
	}
	patch := rows[0]

	fs.mu.Lock()
	var updated []Row
	for _, cur := range fs.tables[table] {
		if matchAll(filters, cur) {
			for k, v := range patch {
				cur[k] = v
			}
			updated = append(updated, copyRow(cur))
		}
	}
	fs.mu.Unlock()

	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		if updated == nil {
			updated = []Row{}
		}
		writeJSON(w, http.StatusOK, updated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fs *FakeSupabase) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return
	}
	if len(filters) == 0 {
		writeError(w, http.StatusBadRequest, "21000", "DELETE requires a WHERE clause")
		return
	}

	fs.mu.Lock()
	var kept, removed []Row
	for _, cur := range fs.tables[table] {
		if matchAll(filters, cur) {
			removed = append(removed, cur)
		} else {
			kept = append(kept, cur)
		}
	}
	if kept == nil {
		kept = []Row{}
	}
	fs.tables[table] = kept
	fs.mu.Unlock()

	if strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		if removed == nil {
			removed = []Row{}
		}
		writeJSON(w, http.StatusOK, removed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fs *FakeSupabase) handleRPC(w http.ResponseWriter, r *http.Request) {
	fn := mux.Vars(r)["fn"]
	fs.mu.Lock()
	h, ok := fs.rpcs[fn]
	fs.rpcCalls[fn]++
	fs.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "PGRST202",
			fmt.Sprintf("Could not find the function public.%s without parameters in the schema cache", fn))
		return
	}

	params := map[string]interface{}{}
	body, _ := io.ReadAll(r.Body)
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeError(w, http.StatusBadRequest, "PGRST102", err.Error())
			return
		}
	}

	res, rpcErr := h(params)
	if rpcErr != nil {
		status := rpcErr.Status
		if status == 0 {
			status = http.StatusBadRequest
		}
		writeError(w, status, rpcErr.Code, rpcErr.Message)
		return
	}
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Storage ---

func (fs *FakeSupabase) handleUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["bucket"] + "/" + vars["path"]
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"statusCode": "400", "error": err.Error()})
		return
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, exists := fs.objects[key]; exists && r.Header.Get("x-upsert") != "true" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"statusCode": "409", "error": "Duplicate", "message": "The resource already exists"})
		return
	}
	fs.objects[key] = storedObject{data: data, contentType: r.Header.Get("Content-Type")}
	writeJSON(w, http.StatusOK, map[string]string{"Key": key})
}

func (fs *FakeSupabase) serveObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	fs.mu.Lock()
	o, ok := fs.objects[vars["bucket"]+"/"+vars["path"]]
	fs.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"statusCode": "404", "error": "not_found", "message": "Object not found"})
		return
	}
	w.Header().Set("Content-Type", o.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(o.data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(o.data)
	}
}

func (fs *FakeSupabase) handleDownload(w http.ResponseWriter, r *http.Request) {
	fs.serveObject(w, r)
}

func (fs *FakeSupabase) handlePublicObject(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	fs.requests = append(fs.requests, r.Method+" "+r.URL.RequestURI())
	fs.mu.Unlock()
	fs.serveObject(w, r)
}

func (fs *FakeSupabase) handleListObjects(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	var req struct {
		Prefix string `json:"prefix"`
		Limit  int    `json:"limit"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	prefix := strings.TrimSuffix(req.Prefix, "/")

	fs.mu.Lock()
	var names []string
	for key := range fs.objects {
		rest, ok := strings.CutPrefix(key, bucket+"/")
		if !ok {
			continue
		}
		if prefix != "" {
			if rest, ok = strings.CutPrefix(rest, prefix+"/"); !ok {
				continue
			}
		}
		if !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	fs.mu.Unlock()

	sort.Strings(names)
	if req.Limit > 0 && len(names) > req.Limit {
		names = names[:req.Limit]
	}
	out := make([]map[string]interface{}, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]interface{}{"name": n, "id": uuid.NewString()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (fs *FakeSupabase) handleDeleteObjects(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	var req struct {
		Prefixes []string `json:"prefixes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"statusCode": "400", "error": err.Error()})
		return
	}
	fs.mu.Lock()
	var deleted []map[string]string
	for _, p := range req.Prefixes {
		key := bucket + "/" + p
		if _, ok := fs.objects[key]; ok {
			delete(fs.objects, key)
			deleted = append(deleted, map[string]string{"name": p})
		}
	}
	fs.mu.Unlock()
	if deleted == nil {
		deleted = []map[string]string{}
	}
	writeJSON(w, http.StatusOK, deleted)
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func withID(r Row) Row {
	if id, ok := r["id"]; !ok || id == nil || id == "" {
		r["id"] = uuid.NewString()
	}
	return r
}

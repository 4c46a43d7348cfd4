package control

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	methodRe = regexp.MustCompile(`<methodName>([^<]+)</methodName>`)
	paramRe  = regexp.MustCompile(`<string>([^<]*)</string>`)
)

// rpcStub is a canned XML-RPC endpoint standing in for the daemon.
// Responses are keyed by "method" or by "method:firstStringParam"; missing
// entries return boolean true.
type rpcStub struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]string
	// dropConn lists methods whose connection is severed before any
	// response bytes, simulating a dead daemon mid-session.
	dropConn map[string]bool
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	method := ""
	if m := methodRe.FindSubmatch(body); m != nil {
		method = string(m[1])
	}
	param := ""
	if m := paramRe.FindSubmatch(body); m != nil {
		param = string(m[1])
	}
	s.mu.Lock()
	s.calls = append(s.calls, method)
	drop := s.dropConn[method]
	resp, ok := s.responses[method+":"+param]
	if !ok {
		resp, ok = s.responses[method]
	}
	s.mu.Unlock()

	if drop {
		hj, canHijack := w.(http.Hijacker)
		if !canHijack {
			panic("cannot hijack connection")
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if !ok {
		resp = boolResponse
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(resp))
}

func (s *rpcStub) called(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == method {
			return true
		}
	}
	return false
}

const boolResponse = `<?xml version="1.0"?>
<methodResponse><params><param><value><boolean>1</boolean></value></param></params></methodResponse>`

func faultResponse(code int, msg string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<methodResponse><fault><value><struct>
<member><name>faultCode</name><value><int>%d</int></value></member>
<member><name>faultString</name><value><string>%s</string></value></member>
</struct></value></fault></methodResponse>`, code, msg)
}

func infoStruct(name, group, statename string, state, pid int) string {
	return fmt.Sprintf(`<struct>
<member><name>name</name><value><string>%s</string></value></member>
<member><name>group</name><value><string>%s</string></value></member>
<member><name>statename</name><value><string>%s</string></value></member>
<member><name>state</name><value><int>%d</int></value></member>
<member><name>pid</name><value><int>%d</int></value></member>
<member><name>description</name><value><string>test</string></value></member>
</struct>`, name, group, statename, state, pid)
}

func infoResponse(name, group, statename string, state, pid int) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<methodResponse><params><param><value>%s</value></param></params></methodResponse>`,
		infoStruct(name, group, statename, state, pid))
}

func listResponse(structs ...string) string {
	values := ""
	for _, s := range structs {
		values += "<value>" + s + "</value>"
	}
	return fmt.Sprintf(`<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>%s</data></array></value></param></params></methodResponse>`, values)
}

func newTestClient(t *testing.T, stub *rpcStub) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL + "/RPC2", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c, srv
}

func TestListDecodesAllStates(t *testing.T) {
	stub := &rpcStub{responses: map[string]string{
		"supervisor.getAllProcessInfo": listResponse(
			infoStruct("web", "web", "RUNNING", 20, 101),
			infoStruct("api", "backend", "STOPPED", 0, 0),
			infoStruct("worker1", "workers", "FATAL", 200, 0),
		),
	}}
	c, _ := newTestClient(t, stub)

	statuses, err := c.List()
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, ProcessStatus{Name: "web", Group: "web", State: "RUNNING", PID: 101, Description: "test"}, statuses[0])
	assert.Equal(t, "STOPPED", statuses[1].State)
	assert.Equal(t, "FATAL", statuses[2].State)
	assert.Equal(t, "backend", statuses[1].Group)
}

func TestStartReportsLandingState(t *testing.T) {
	stub := &rpcStub{responses: map[string]string{
		"supervisor.getProcessInfo": infoResponse("web", "web", "RUNNING", 20, 101),
	}}
	c, _ := newTestClient(t, stub)

	res, err := c.Start("web")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "web", res.Name)
	assert.Contains(t, res.Message, "state=RUNNING")
}

func TestStartUnknownNameIsNotFound(t *testing.T) {
	stub := &rpcStub{responses: map[string]string{
		"supervisor.startProcess": faultResponse(10, "BAD_NAME: nosuch"),
	}}
	c, _ := newTestClient(t, stub)

	_, err := c.Start("nosuch")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestStopNotRunningIsRejected(t *testing.T) {
	stub := &rpcStub{responses: map[string]string{
		"supervisor.stopProcess": faultResponse(70, "NOT_RUNNING"),
	}}
	c, _ := newTestClient(t, stub)

	_, err := c.Stop("web")
	require.ErrorIs(t, err, ErrRejected)
}

func TestUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(Config{URL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.List()
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestCallTimeoutIsUnreachable(t *testing.T) {
	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})
	srv := httptest.NewServer(stub)
	defer srv.Close()
	c, err := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.List()
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestRestartSkipsStartOnTransportFailure(t *testing.T) {
	stub := &rpcStub{dropConn: map[string]bool{"supervisor.stopProcess": true}}
	c, _ := newTestClient(t, stub)

	_, err := c.Restart("web")
	require.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, stub.called("supervisor.startProcess"))
}

func TestRestartProceedsWhenAlreadyStopped(t *testing.T) {
	stub := &rpcStub{responses: map[string]string{
		"supervisor.stopProcess":    faultResponse(70, "NOT_RUNNING"),
		"supervisor.getProcessInfo": infoResponse("web", "web", "RUNNING", 20, 300),
	}}
	c, _ := newTestClient(t, stub)

	res, err := c.Restart("web")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, stub.called("supervisor.startProcess"))
}

func TestStopAllEmptySetReturnsEmptyList(t *testing.T) {
	stub := &rpcStub{responses: map[string]string{
		"supervisor.getAllProcessInfo": listResponse(),
	}}
	c, _ := newTestClient(t, stub)

	results, err := c.StopAll()
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestStopAllAggregatesPartialFailures(t *testing.T) {
	stub := &rpcStub{responses: map[string]string{
		"supervisor.getAllProcessInfo": listResponse(
			infoStruct("web", "web", "RUNNING", 20, 101),
			infoStruct("stuck", "web", "RUNNING", 20, 102),
			infoStruct("idle", "web", "STOPPED", 0, 0),
		),
		"supervisor.getProcessInfo":  infoResponse("web", "web", "STOPPED", 0, 0),
		"supervisor.stopProcess:web": boolResponse,
		// Stopping "stuck" is refused; the aggregate call still succeeds.
		"supervisor.stopProcess:stuck": faultResponse(70, "NOT_RUNNING"),
	}}
	c, _ := newTestClient(t, stub)

	results, err := c.StopAll()
	require.NoError(t, err)
	// Only the two running processes are addressed; idle is skipped.
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.Contains(t, results[1].Message, "rejected")
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

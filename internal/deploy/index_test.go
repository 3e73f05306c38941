package deploy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexProvider_Deploy(t *testing.T) {
	tmp := t.TempDir()
	artifact := filepath.Join(tmp, "gantry-1.2.3.tar.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("tarball-bytes"), 0644))

	var gotUser, gotPass, gotVersion, gotFile string
	var gotContent []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotVersion = r.FormValue("version")

		f, header, err := r.FormFile("content")
		require.NoError(t, err)
		defer f.Close()
		gotFile = header.Filename
		buf := make([]byte, header.Size)
		_, _ = f.Read(buf)
		gotContent = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &IndexProvider{}
	err := p.Deploy(context.Background(), Request{
		Username: "gantry-bot",
		Password: "pw",
		Settings: map[string]string{"url": srv.URL, "artifact": artifact},
		Context:  BuildContext{Tag: "v1.2.3"},
	})
	require.NoError(t, err)

	assert.Equal(t, "gantry-bot", gotUser)
	assert.Equal(t, "pw", gotPass)
	assert.Equal(t, "v1.2.3", gotVersion)
	assert.Equal(t, "gantry-1.2.3.tar.gz", gotFile)
	assert.Equal(t, []byte("tarball-bytes"), gotContent)
}

func TestIndexProvider_WorkspaceRelativeGlob(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "dist"), 0755))
	artifact := filepath.Join(ws, "dist", "pkg-1.0.tar.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("bytes"), 0644))

	var gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, header, err := r.FormFile("content")
		require.NoError(t, err)
		gotFile = header.Filename
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The glob must resolve against the workspace, not the process cwd.
	p := &IndexProvider{}
	err := p.Deploy(context.Background(), Request{
		Settings: map[string]string{"url": srv.URL, "artifact": "dist/*"},
		Context:  BuildContext{Workspace: ws},
	})
	require.NoError(t, err)
	assert.Equal(t, "pkg-1.0.tar.gz", gotFile)
}

func TestIndexProvider_NoArtifacts(t *testing.T) {
	p := &IndexProvider{}
	err := p.Deploy(context.Background(), Request{
		Settings: map[string]string{
			"url":      "http://127.0.0.1:1",
			"artifact": filepath.Join(t.TempDir(), "dist", "*"),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no artifacts")
}

func TestIndexProvider_MissingURL(t *testing.T) {
	p := &IndexProvider{}
	err := p.Deploy(context.Background(), Request{Settings: map[string]string{}})
	require.Error(t, err)
}

func TestIndexProvider_ServerRejects(t *testing.T) {
	tmp := t.TempDir()
	artifact := filepath.Join(tmp, "a.tgz")
	require.NoError(t, os.WriteFile(artifact, []byte("x"), 0644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := &IndexProvider{}
	err := p.Deploy(context.Background(), Request{
		Settings: map[string]string{"url": srv.URL, "artifact": artifact},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestScriptProvider_Deploy(t *testing.T) {
	tmp := t.TempDir()
	marker := filepath.Join(tmp, "deployed.txt")

	p := &ScriptProvider{}
	err := p.Deploy(context.Background(), Request{
		Username: "u",
		Password: "p",
		Settings: map[string]string{"command": "echo $DEPLOY_USERNAME:$DEPLOY_TAG > " + marker},
		Context:  BuildContext{Tag: "v9"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "u:v9\n", string(data))
}

func TestScriptProvider_RunsInWorkspace(t *testing.T) {
	ws := t.TempDir()

	p := &ScriptProvider{}
	err := p.Deploy(context.Background(), Request{
		Settings: map[string]string{"command": "touch deployed.txt"},
		Context:  BuildContext{Workspace: ws},
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(ws, "deployed.txt"))
	assert.NoError(t, err, "command must run inside the workspace")
}

func TestScriptProvider_Failure(t *testing.T) {
	p := &ScriptProvider{}
	err := p.Deploy(context.Background(), Request{
		Settings: map[string]string{"command": "exit 7"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited 7")
}

func TestScriptProvider_MissingCommand(t *testing.T) {
	p := &ScriptProvider{}
	require.Error(t, p.Deploy(context.Background(), Request{}))
}

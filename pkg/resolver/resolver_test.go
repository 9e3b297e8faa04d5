package resolver

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"mcsync/pkg/ignore"
	"mcsync/pkg/manifest"
	"mcsync/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIndexes 是内存中的资源索引来源
type fakeIndexes struct {
	byID map[string]*manifest.AssetIndex
}

func (f *fakeIndexes) FetchAssetIndex(ctx context.Context, ref manifest.AssetIndexRef) (*manifest.AssetIndex, error) {
	idx, ok := f.byID[ref.ID]
	if !ok {
		return nil, &manifest.FetchError{URL: ref.URL, Attempts: 3, Err: errors.New("404")}
	}
	return idx, nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func mustParse(t *testing.T, raw string) *manifest.Version {
	t.Helper()
	v, err := manifest.ParseVersion([]byte(raw))
	require.NoError(t, err)
	return v
}

const hashA = "abcd1234abcd1234abcd1234abcd1234abcd1234"

func TestResolve_LinuxNativesOnly(t *testing.T) {
	root := t.TempDir()
	r := New(root, &fakeIndexes{}, Options{Logger: quietLogger()})

	v := mustParse(t, `{
		"id": "1.12.2",
		"libraries": [{
			"name": "org.lwjgl:lwjgl-platform:3.2.2",
			"rules": [{"action": "allow", "os": {"name": "linux"}}],
			"downloads": {
				"artifact": {"url": "https://libraries.minecraft.net/org/lwjgl/lwjgl.jar", "sha1": "1111111111111111111111111111111111111111", "path": "org/lwjgl/lwjgl.jar"},
				"classifiers": {
					"natives-linux": {"url": "https://libraries.minecraft.net/org/lwjgl/lwjgl-natives-linux.jar", "sha1": "2222222222222222222222222222222222222222", "path": "org/lwjgl/lwjgl-natives-linux.jar"},
					"natives-windows": {"url": "https://libraries.minecraft.net/org/lwjgl/lwjgl-natives-windows.jar", "sha1": "3333333333333333333333333333333333333333", "path": "org/lwjgl/lwjgl-natives-windows.jar"}
				}
			}
		}]
	}`)

	tasks, err := r.Resolve(context.Background(), []Document{{Version: v}})
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, filepath.Join(root, "libraries", "org", "lwjgl", "lwjgl.jar"), tasks[0].Path)
	assert.Equal(t, types.Hash("1111111111111111111111111111111111111111"), tasks[0].SHA1)
	assert.Equal(t, filepath.Join(root, "libraries", "org", "lwjgl", "lwjgl-natives-linux.jar"), tasks[1].Path)
	for _, task := range tasks {
		assert.NotContains(t, task.URL, "windows")
	}
}

func TestResolve_AssetIndex(t *testing.T) {
	root := t.TempDir()
	idx := &fakeIndexes{byID: map[string]*manifest.AssetIndex{
		"5": {Objects: map[string]manifest.AssetObject{"a.png": {Hash: hashA}}},
	}}
	r := New(root, idx, Options{Logger: quietLogger()})

	v := mustParse(t, `{"id": "1.20", "assetIndex": {"id": "5", "url": "https://piston-meta/5.json"}}`)
	tasks, err := r.Resolve(context.Background(), []Document{{Version: v}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	assert.True(t, strings.HasSuffix(tasks[0].URL, "ab/"+hashA))
	assert.Equal(t, ResourcesBaseURL+"/ab/"+hashA, tasks[0].URL)
	assert.True(t, strings.HasSuffix(filepath.ToSlash(tasks[0].Path), "assets/objects/ab/"+hashA))
	assert.Equal(t, types.Hash(hashA), tasks[0].SHA1, "资源任务永远带摘要")
}

func TestResolve_ClientJarAndPathFallback(t *testing.T) {
	root := t.TempDir()
	r := New(root, &fakeIndexes{}, Options{Logger: quietLogger()})

	v := mustParse(t, `{
		"id": "1.8.9",
		"downloads": {"client": {"url": "https://launcher/client.jar", "sha1": "ABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD"}},
		"libraries": [
			{"name": "no-path", "downloads": {"artifact": {"url": "https://libraries.minecraft.net/com/x/x-1.0.jar"}}},
			{"name": "foreign-url", "downloads": {"artifact": {"url": "https://maven.example.org/y.jar"}}},
			{"name": "empty", "downloads": {}},
			{"name": "no-downloads"}
		]
	}`)

	customJar := filepath.Join(t.TempDir(), "custom.jar")
	tasks, err := r.Resolve(context.Background(), []Document{{Version: v, JarPath: customJar}})
	require.NoError(t, err)
	require.Len(t, tasks, 2, "无法推导位置的条目被静默跳过")

	assert.Equal(t, customJar, tasks[0].Path)
	assert.Equal(t, types.Hash("abcdefabcdefabcdefabcdefabcdefabcdefabcd"), tasks[0].SHA1)

	assert.Equal(t, filepath.Join(root, "libraries", "com", "x", "x-1.0.jar"), tasks[1].Path)
	assert.False(t, tasks[1].HasDigest(), "清单没有提供摘要时任务也没有摘要")
}

func TestResolve_DefaultJarPath(t *testing.T) {
	root := t.TempDir()
	r := New(root, &fakeIndexes{}, Options{Logger: quietLogger()})

	v := mustParse(t, `{"id": "1.20.1", "downloads": {"client": {"url": "https://x/client.jar"}}}`)
	tasks, err := r.Resolve(context.Background(), []Document{{Version: v}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, filepath.Join(root, "versions", "1.20.1", "1.20.1.jar"), tasks[0].Path)
}

func TestResolve_FailedIndexAbortsOnlyThatDocument(t *testing.T) {
	root := t.TempDir()
	idx := &fakeIndexes{byID: map[string]*manifest.AssetIndex{
		"ok": {Objects: map[string]manifest.AssetObject{"a": {Hash: hashA}}},
	}}
	r := New(root, idx, Options{Logger: quietLogger()})

	good := mustParse(t, `{"id": "good", "assetIndex": {"id": "ok", "url": "u"}}`)
	bad := mustParse(t, `{"id": "bad", "downloads": {"client": {"url": "https://x/c.jar"}}, "assetIndex": {"id": "missing", "url": "u2"}}`)

	tasks, err := r.Resolve(context.Background(), []Document{{Version: bad}, {Version: good}})
	require.Error(t, err)

	var docErr *DocumentError
	require.True(t, errors.As(err, &docErr))
	assert.Equal(t, "bad", docErr.ID)

	var fetchErr *manifest.FetchError
	assert.True(t, errors.As(err, &fetchErr))

	// bad 的 client jar 也被丢弃，只剩 good 的资源
	require.Len(t, tasks, 1)
	assert.Equal(t, types.Hash(hashA), tasks[0].SHA1)
}

func TestResolve_ConcatenatesWithoutDedup(t *testing.T) {
	root := t.TempDir()
	idx := &fakeIndexes{byID: map[string]*manifest.AssetIndex{
		"5": {Objects: map[string]manifest.AssetObject{"a": {Hash: hashA}, "b": {Hash: hashA}}},
	}}
	r := New(root, idx, Options{Logger: quietLogger()})

	v1 := mustParse(t, `{"id": "1.20", "assetIndex": {"id": "5", "url": "u"}}`)
	v2 := mustParse(t, `{"id": "1.20.1", "assetIndex": {"id": "5", "url": "u"}}`)

	tasks, err := r.Resolve(context.Background(), []Document{{Version: v1}, {Version: v2}})
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, tasks[0], task, "相同摘要总是得到相同的 URL 与路径")
	}
}

func TestResolve_PlatformRestrictionAndExclude(t *testing.T) {
	root := t.TempDir()
	matcher, err := ignore.NewMatcher(root, "assets/objects")
	require.NoError(t, err)

	idx := &fakeIndexes{byID: map[string]*manifest.AssetIndex{
		"5": {Objects: map[string]manifest.AssetObject{"a": {Hash: hashA}}},
	}}
	r := New(root, idx, Options{
		Platforms: types.NewPlatformSet(types.Windows),
		Exclude:   matcher,
		Logger:    quietLogger(),
	})

	v := mustParse(t, `{
		"id": "1.12.2",
		"libraries": [{
			"name": "jinput-platform",
			"downloads": {
				"classifiers": {
					"natives-linux": {"url": "https://libraries.minecraft.net/j/linux.jar", "path": "j/linux.jar"},
					"natives-osx": {"url": "https://libraries.minecraft.net/j/osx.jar", "path": "j/osx.jar"},
					"natives-windows": {"url": "https://libraries.minecraft.net/j/windows.jar", "path": "j/windows.jar"},
					"natives-windows-64": {"url": "https://libraries.minecraft.net/j/windows-64.jar", "path": "j/windows-64.jar"},
					"javadoc": {"url": "https://libraries.minecraft.net/j/javadoc.jar", "path": "j/javadoc.jar"}
				}
			}
		}],
		"assetIndex": {"id": "5", "url": "u"}
	}`)

	tasks, err := r.Resolve(context.Background(), []Document{{Version: v}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, filepath.Join(root, "libraries", "j", "windows.jar"), tasks[0].Path)
}

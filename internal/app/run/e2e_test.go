package run

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/John-Robertt/moviecsv/internal/config"
	"github.com/John-Robertt/moviecsv/internal/domain"
	"github.com/John-Robertt/moviecsv/internal/infra/fsx"
	"github.com/John-Robertt/moviecsv/internal/provider"
	"github.com/John-Robertt/moviecsv/internal/provider/imdb"
)

const (
	rawCSV = "movie_name,movie_imdb_id,actor_name,actor_imdb_id,rank\n" +
		"Alpha,tt0000001,Actor One,nm0000011,1\n" +
		"Beta,tt0000002,Actor Two,nm0000012,3\n" +
		"Alpha,tt0000001,Actor Eleven,nm0000013,11\n" +
		"Alpha,tt0000001,Actor Twenty,nm0000014,20\n" +
		"Ghost,,Nobody,nm0000015,2\n"

	directorsCSV = "movie_imdb_id,director_name,director_imdb_id\n" +
		"tt0000001,Dir A,nm0000001\n"

	moviesCSV = "Imdb_Id,Movie Tier (Indie/Mainstream/Blockbuster)\n" +
		"tt0000001,\"Mainstream (Price 50,000)\"\n"

	wantReordered = "Type,Active,Name,Imdb id,Movie Tier,Production Cost,Rank,Price\n" +
		"Movie,TRUE,Alpha,tt0000001,Mainstream,0,,0\n" +
		"Director,TRUE,Dir A,nm0000001,,,,\n" +
		"Actor,TRUE,Actor One,nm0000011,,,1,0\n" +
		"Actor,TRUE,Actor Eleven,nm0000013,,,11,0\n" +
		",,,,,,,\n" +
		"Movie,TRUE,Beta,tt0000002,Mainstream,0,,0\n" +
		"Actor,TRUE,Actor Two,nm0000012,,,3,0\n"

	wantPriced = "Type,Active,Name,Imdb id,Movie Tier,Production Cost,Rank,Price\n" +
		"Movie,TRUE,Alpha,tt0000001,Mainstream,50000000,,50000\n" +
		"Director,TRUE,Dir A,nm0000001,,,,15000\n" +
		"Actor,TRUE,Actor One,nm0000011,,,1,15000\n" +
		"Actor,TRUE,Actor Eleven,nm0000013,,,11,5000\n" +
		",,,,,,,\n" +
		"Movie,TRUE,Beta,tt0000002,Mainstream,0,,0\n" +
		"Actor,TRUE,Actor Two,nm0000012,,,3,0\n"
)

func writeInputs(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(root, name), []byte(body), 0o644); err != nil {
			t.Fatalf("写入 %s 失败：%v", name, err)
		}
	}
}

func allInputs() map[string]string {
	return map[string]string{
		config.DefaultRawFile:       rawCSV,
		config.DefaultDirectorsFile: directorsCSV,
		config.DefaultMoviesFile:    moviesCSV,
	}
}

func readString(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取 %s 失败：%v", path, err)
	}
	return string(b)
}

func stageStatus(rr domain.RunReport) map[string]domain.StageResult {
	m := make(map[string]domain.StageResult, len(rr.Stages))
	for _, s := range rr.Stages {
		m[s.Name] = s
	}
	return m
}

func emptyRegistry(t *testing.T) provider.Registry {
	t.Helper()
	reg, err := provider.NewRegistry()
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	return reg
}

func TestExecute_Apply_WritesOutputs(t *testing.T) {
	root := t.TempDir()
	writeInputs(t, root, allInputs())

	eff := config.Default(root)
	eff.Apply = true

	rr := Execute(context.Background(), eff, emptyRegistry(t))

	if rr.RunID == "" || rr.DryRun {
		t.Fatalf("report 头部不符合预期：%+v", rr)
	}
	if rr.Summary.StagesOK != 4 || rr.Summary.StagesSkipped != 1 || rr.Summary.StagesFailed != 0 {
		t.Fatalf("summary 不符合预期：%+v stages=%+v", rr.Summary, rr.Stages)
	}
	if rr.Summary.RowsOut != 7 {
		t.Fatalf("期望 rows_out=7，实际 %d", rr.Summary.RowsOut)
	}

	st := stageStatus(rr)
	if f := st[domain.StageFilter]; f.RowsIn != 5 || f.RowsOut != 4 {
		t.Fatalf("filter 行数不符合预期：%+v", f)
	}
	if st[domain.StageReorder].Written || !st[domain.StageDirectors].Written || !st[domain.StagePricing].Written {
		t.Fatalf("written 标记不符合预期：%+v", rr.Stages)
	}
	if st[domain.StageImages].Status != domain.StatusSkipped {
		t.Fatalf("images 未启用应为 skipped：%+v", st[domain.StageImages])
	}

	if got := readString(t, filepath.Join(root, config.DefaultReorderedFile)); got != wantReordered {
		t.Fatalf("reordered 输出不符合预期：\n%s", got)
	}
	if got := readString(t, filepath.Join(root, config.DefaultPricedFile)); got != wantPriced {
		t.Fatalf("priced 输出不符合预期：\n%s", got)
	}
	if _, err := os.Stat(filepath.Join(root, config.DefaultImagesFile)); !os.IsNotExist(err) {
		t.Fatalf("images 未启用不应写出 image 输出：err=%v", err)
	}

	if len(rr.Issues) != 2 {
		t.Fatalf("期望 2 条 issue，实际 %d：%+v", len(rr.Issues), rr.Issues)
	}
	if is := rr.Issues[0]; is.Stage != domain.StageReorder || is.Line != 4 || is.Kind != domain.IssueMissingField {
		t.Fatalf("issue[0] 不符合预期：%+v", is)
	}
	if is := rr.Issues[1]; is.Stage != domain.StagePricing || is.Kind != domain.IssueUnresolvedReference || is.Key != "tt0000002" {
		t.Fatalf("issue[1] 不符合预期：%+v", is)
	}

	if _, err := os.Stat(filepath.Join(root, fsx.LockFileName)); err != nil {
		t.Fatalf("apply 应创建锁文件：%v", err)
	}
}

func TestExecute_DryRun_NoWrites(t *testing.T) {
	root := t.TempDir()
	writeInputs(t, root, allInputs())

	rr := Execute(context.Background(), config.Default(root), emptyRegistry(t))

	if !rr.DryRun {
		t.Fatalf("默认应为 dry-run")
	}
	if rr.Summary.StagesFailed != 0 || rr.Summary.RowsOut != 7 {
		t.Fatalf("dry-run 也应计算全部阶段：%+v", rr.Summary)
	}
	for _, s := range rr.Stages {
		if s.Written {
			t.Fatalf("dry-run 不应写出：%+v", s)
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dry-run 不应创建任何文件，实际目录内容：%v", names)
	}
}

func TestExecute_RawMissing(t *testing.T) {
	root := t.TempDir()
	eff := config.Default(root)
	eff.Apply = true

	rr := Execute(context.Background(), eff, emptyRegistry(t))
	st := stageStatus(rr)
	if r := st[domain.StageReorder]; r.Status != domain.StatusFailed || r.ErrorCode != domain.ErrCodeInputMissing {
		t.Fatalf("reorder 应失败于 input_missing：%+v", r)
	}
	if st[domain.StagePricing].Status != domain.StatusSkipped {
		t.Fatalf("下游阶段应跳过：%+v", st[domain.StagePricing])
	}
	if _, err := os.Stat(filepath.Join(root, fsx.LockFileName)); !os.IsNotExist(err) {
		t.Fatalf("主输入缺失时不应加锁：err=%v", err)
	}
}

func TestExecute_MissingColumnFailsStage(t *testing.T) {
	root := t.TempDir()
	writeInputs(t, root, map[string]string{
		config.DefaultRawFile: "movie_name,movie_imdb_id,actor_name,actor_imdb_id\nAlpha,tt1,A,nm1\n",
	})
	eff := config.Default(root)
	eff.Filter.Enabled = false

	rr := Execute(context.Background(), eff, emptyRegistry(t))
	st := stageStatus(rr)
	if r := st[domain.StageReorder]; r.Status != domain.StatusFailed || r.ErrorCode != domain.ErrCodeMissingColumn {
		t.Fatalf("reorder 应失败于 missing_column：%+v", r)
	}
	if !strings.Contains(st[domain.StageReorder].ErrorMsg, "rank") {
		t.Fatalf("错误信息应列出缺失列：%q", st[domain.StageReorder].ErrorMsg)
	}
}

func TestExecute_OutputPathIsDirectory(t *testing.T) {
	root := t.TempDir()
	writeInputs(t, root, allInputs())
	if err := os.Mkdir(filepath.Join(root, config.DefaultReorderedFile), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	eff := config.Default(root)
	eff.Apply = true

	rr := Execute(context.Background(), eff, emptyRegistry(t))
	st := stageStatus(rr)
	if d := st[domain.StageDirectors]; d.Status != domain.StatusFailed || d.ErrorCode != domain.ErrCodeTargetConflict {
		t.Fatalf("输出路径是目录时 directors 应失败于 target_conflict：%+v", d)
	}
	if st[domain.StagePricing].Status != domain.StatusSkipped {
		t.Fatalf("下游阶段应跳过：%+v", st[domain.StagePricing])
	}
}

func TestErrorCode_FileSystemErrors(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("写出：%w", &fsx.PathTypeConflictError{Path: "/d/x.csv", Want: "file", Got: "dir"}), domain.ErrCodeTargetConflict},
		{fmt.Errorf("写出：%w", &fsx.CrossDeviceError{Src: "/a", Dst: "/b", Err: os.ErrInvalid}), domain.ErrCodeCrossDevice},
		{os.ErrPermission, domain.ErrCodeIOFailed},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Fatalf("errorCode(%v)：期望 %q，实际 %q", tc.err, tc.want, got)
		}
	}
}

func TestExecute_LockedByAnotherRun(t *testing.T) {
	root := t.TempDir()
	writeInputs(t, root, allInputs())

	held, err := fsx.TryLock(root)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	defer held.Unlock()

	eff := config.Default(root)
	eff.Apply = true
	rr := Execute(context.Background(), eff, emptyRegistry(t))

	st := stageStatus(rr)
	if f := st[domain.StageFilter]; f.Status != domain.StatusFailed || f.ErrorCode != domain.ErrCodeLocked {
		t.Fatalf("第一个阶段应失败于 locked：%+v", f)
	}
	if st[domain.StageReorder].Status != domain.StatusSkipped {
		t.Fatalf("其余阶段应跳过：%+v", st[domain.StageReorder])
	}
	if _, err := os.Stat(filepath.Join(root, config.DefaultPricedFile)); !os.IsNotExist(err) {
		t.Fatalf("锁被占用时不应写出：err=%v", err)
	}
}

func fakeIMDb(t *testing.T, hits *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		id := filepath.Base(strings.TrimSuffix(r.URL.Path, "/"))
		if id == "nm0000012" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `<meta property="og:image" content="https://img.test/%s._V1_UX100_.jpg">`, id)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecute_Images_ApplyAndDryRun(t *testing.T) {
	var hits int64
	srv := fakeIMDb(t, &hits)
	reg, err := provider.NewRegistry(imdb.Provider{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	root := t.TempDir()
	writeInputs(t, root, allInputs())
	eff := config.Default(root)
	eff.Images.Enabled = true
	eff.Images.RatePerSec = 1000

	// dry-run：不访问网络，image 全部为空，但阶段本身成功。
	rr := Execute(context.Background(), eff, reg)
	if s := stageStatus(rr)[domain.StageImages]; s.Status != domain.StatusOK || s.RowsOut != 7 {
		t.Fatalf("dry-run images 阶段不符合预期：%+v", s)
	}
	if atomic.LoadInt64(&hits) != 0 {
		t.Fatalf("dry-run 不应访问网络，实际请求 %d 次", hits)
	}

	eff.Apply = true
	rr = Execute(context.Background(), eff, reg)
	s := stageStatus(rr)[domain.StageImages]
	if s.Status != domain.StatusOK || !s.Written {
		t.Fatalf("apply images 阶段不符合预期：%+v", s)
	}
	// 6 个不同 id：Alpha, Dir A, Actor One, Actor Eleven, Beta, Actor Two。
	if n := atomic.LoadInt64(&hits); n != 6 {
		t.Fatalf("期望请求 6 次，实际 %d", n)
	}

	got := readString(t, filepath.Join(root, config.DefaultImagesFile))
	lines := strings.Split(strings.TrimSpace(got), "\n")
	if lines[0] != "Type,Active,Name,Imdb id,Movie Tier,Production Cost,Rank,Price,image" {
		t.Fatalf("表头不符合预期：%s", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",https://img.test/tt0000001._V1_FMjpg_UX1000_.jpg") {
		t.Fatalf("Movie 行 image 不符合预期：%s", lines[1])
	}
	if lines[5] != ",,,,,,,," {
		t.Fatalf("分隔行应保持空白：%q", lines[5])
	}
	if !strings.HasSuffix(lines[7], ",3,0,") {
		t.Fatalf("抓取失败的行 image 应为空：%s", lines[7])
	}

	var fetchIssues int
	for _, is := range rr.Issues {
		if is.Kind == domain.IssueFetchFailure {
			fetchIssues++
			if is.Key != "nm0000012" {
				t.Fatalf("fetch_failure 不符合预期：%+v", is)
			}
		}
	}
	if fetchIssues != 1 {
		t.Fatalf("期望 1 条 fetch_failure，实际 %d", fetchIssues)
	}

	if _, err := os.Stat(filepath.Join(root, "cache", "images", "title", "tt0000001.json")); err != nil {
		t.Fatalf("apply 应写入图片缓存：%v", err)
	}

	// 再次 dry-run：命中缓存，仍然不访问网络。
	eff.Apply = false
	before := atomic.LoadInt64(&hits)
	_ = Execute(context.Background(), eff, reg)
	if atomic.LoadInt64(&hits) != before {
		t.Fatalf("dry-run 命中缓存时不应访问网络")
	}
}

func TestExecute_CanceledContext(t *testing.T) {
	root := t.TempDir()
	writeInputs(t, root, allInputs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rr := Execute(ctx, config.Default(root), emptyRegistry(t))

	st := stageStatus(rr)
	if f := st[domain.StageFilter]; f.Status != domain.StatusFailed || f.ErrorCode != domain.ErrCodeCanceled {
		t.Fatalf("取消后第一个阶段应失败于 canceled：%+v", f)
	}
	if st[domain.StageReorder].Status != domain.StatusSkipped {
		t.Fatalf("取消后其余阶段应跳过：%+v", st[domain.StageReorder])
	}
}

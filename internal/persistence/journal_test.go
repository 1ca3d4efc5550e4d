package persistence

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timers.journal")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("无法打开日志: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestRecover_ReturnsRobotsWhoseLastRecordIsArm(t *testing.T) {
	j, _ := openTestJournal(t)

	j.Arm("isar-2")
	j.Arm("isar-1")
	j.Arm("isar-3")
	j.Retire("isar-3")
	j.Retire("isar-2")
	j.Arm("isar-2")

	ids, err := j.Recover()
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	want := []string{"isar-1", "isar-2"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("预期 %v, 得到 %v", want, ids)
	}

	// 恢复之后仍可继续追加
	if err := j.Retire("isar-1"); err != nil {
		t.Fatalf("追加失败: %v", err)
	}
	ids, _ = j.Recover()
	if !reflect.DeepEqual(ids, []string{"isar-2"}) {
		t.Errorf("预期 [isar-2], 得到 %v", ids)
	}
}

func TestRecover_SurvivesReopenAndCorruptLines(t *testing.T) {
	j, path := openTestJournal(t)
	j.Arm("isar-1")
	j.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("无法打开日志文件: %v", err)
	}
	f.WriteString("{not json\n")
	f.Close()

	reopened, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("重新打开日志失败: %v", err)
	}
	defer reopened.Close()

	ids, err := reopened.Recover()
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"isar-1"}) {
		t.Errorf("预期 [isar-1], 得到 %v", ids)
	}
}

func TestCompact_RewritesLiveSet(t *testing.T) {
	j, path := openTestJournal(t)
	for i := 0; i < 10; i++ {
		j.Arm("isar-1")
		j.Retire("isar-1")
	}
	j.Arm("isar-2")

	before, _ := os.Stat(path)
	if err := j.Compact([]string{"isar-2"}); err != nil {
		t.Fatalf("压缩失败: %v", err)
	}
	after, _ := os.Stat(path)
	if after.Size() >= before.Size() {
		t.Errorf("压缩后文件应变小: %d -> %d", before.Size(), after.Size())
	}

	ids, err := j.Recover()
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"isar-2"}) {
		t.Errorf("预期 [isar-2], 得到 %v", ids)
	}

	// 压缩后追加写入仍然有效
	j.Arm("isar-3")
	ids, _ = j.Recover()
	if !reflect.DeepEqual(ids, []string{"isar-2", "isar-3"}) {
		t.Errorf("预期 [isar-2 isar-3], 得到 %v", ids)
	}
}

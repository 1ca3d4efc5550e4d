package persistence

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// 日志记录类型
const (
	EntryArm    = "ARM"    // 为机器人武装或重置了超时计时器
	EntryRetire = "RETIRE" // 计时器已触发处理完毕或被取消
)

// LogEntry 代表日志文件中的一条记录
type LogEntry struct {
	Type    string    `json:"type"`
	RobotID string    `json:"robot_id"` // ISAR ID
	At      time.Time `json:"at"`
}

// Journal 是计时器的追加日志
// 协调器重启后可以据此重新武装重启前仍然存活的计时器
type Journal struct {
	file *os.File   // 日志文件句柄
	mu   sync.Mutex // 互斥锁，保证文件写入的原子性
}

// OpenJournal 创建或打开一个日志文件
func OpenJournal(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{file: file}, nil
}

// Arm 记录一次武装
func (j *Journal) Arm(robotID string) error {
	return j.append(LogEntry{Type: EntryArm, RobotID: robotID, At: time.Now().UTC()})
}

// Retire 记录一次退役
func (j *Journal) Retire(robotID string) error {
	return j.append(LogEntry{Type: EntryRetire, RobotID: robotID, At: time.Now().UTC()})
}

func (j *Journal) append(entry LogEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return err
	}
	// 确保数据被刷新到磁盘
	return j.file.Sync()
}

// Recover 返回最后一条记录为 ARM 的机器人 (已排序)
func (j *Journal) Recover() ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	armed := make(map[string]bool)
	scanner := bufio.NewScanner(j.file)
	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// 忽略损坏的行
			continue
		}
		switch entry.Type {
		case EntryArm:
			armed[entry.RobotID] = true
		case EntryRetire:
			delete(armed, entry.RobotID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(armed))
	for id := range armed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Compact 用给定的存活机器人列表重写日志，丢弃历史记录
func (j *Journal) Compact(live []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.file.Truncate(0); err != nil {
		return err
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w := bufio.NewWriter(j.file)
	now := time.Now().UTC()
	for _, id := range live {
		data, err := json.Marshal(LogEntry{Type: EntryArm, RobotID: id, At: now})
		if err != nil {
			return err
		}
		w.Write(append(data, '\n'))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Close 关闭日志文件
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

package arxiv

import (
	"fmt"
	"os"
	"sync"
)

// Workspace 一次运行独占的临时目录
type Workspace struct {
	dir  string
	once sync.Once
	err  error
}

// NewWorkspace 在root下创建唯一的临时目录，root为空时使用系统临时目录
func NewWorkspace(root string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create workspace root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "paperds-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir 返回工作目录
func (w *Workspace) Dir() string {
	return w.dir
}

// Close 删除工作目录，可重复调用
func (w *Workspace) Close() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.dir)
	})
	return w.err
}

package file

// SideLog 旁路字节流日志，不经过memtable和table builder
// 写入方只追加，读取方用offset直接pread
type SideLog struct {
	lf *LogFile
}

func NewSideLog(f AppendFile, bufSize int) *SideLog {
	if bufSize < 1 {
		bufSize = 1
	}
	// 旁路日志攒满缓冲才落盘
	return &SideLog{lf: NewLogFile(f, bufSize, bufSize)}
}

// IoAppend 追加一段不透明的字节流，返回写入的长度
func (s *SideLog) IoAppend(b []byte) (int, error) {
	if err := s.lf.Append(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Offset 旁路日志的当前逻辑长度
func (s *SideLog) Offset() int64 {
	return s.lf.Offset()
}

func (s *SideLog) Flush() error {
	return s.lf.Flush()
}

func (s *SideLog) Sync() error {
	return s.lf.Sync()
}

func (s *SideLog) Close() error {
	return s.lf.Close()
}

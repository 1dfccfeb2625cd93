package api

import "io"

type progressReader struct {
	r        io.Reader
	total    int64
	loaded   int64
	progress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) io.Reader {
	if progress == nil {
		return r
	}
	return &progressReader{r: r, total: total, progress: progress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.loaded += int64(n)
		p.progress(p.loaded, p.total)
	}
	return n, err
}

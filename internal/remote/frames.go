package remote

import (
	"bufio"
	"io"
	"strings"
)

// frame is one parsed event from an SSE-style stream. Event is the value of
// the "event:" line ("" when the stream omits it), Data the concatenated
// "data:" lines and ID the last seen "id:" line.
type frame struct {
	Event string
	Data  string
	ID    string
}

// readFrames parses an SSE-framed stream and calls handle once per complete
// frame. Frames are delimited by blank lines; "event:", "data:" and "id:"
// lines are recognised, everything else is ignored. A trailing frame without
// a closing blank line is dispatched at EOF, matching lenient servers that
// close the stream right after the last data line.
//
// readFrames returns nil on EOF and the read error otherwise.
func readFrames(r io.Reader, handle func(frame)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var cur frame
	var data strings.Builder
	dispatch := func() {
		if data.Len() == 0 && cur.Event == "" {
			return
		}
		cur.Data = data.String()
		handle(cur)
		cur = frame{ID: cur.ID}
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "id:"):
			cur.ID = strings.TrimSpace(line[len("id:"):])
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	dispatch()
	return nil
}

package protocol

// Records (a batch of) whole frames. Batching allows for writev() through
// net.Buffers on the write path.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}

// RecordsOf frames each message.
func RecordsOf(msgs ...Message) Records {
	recs := make(Records, 0, len(msgs))
	for _, m := range msgs {
		recs = append(recs, Frame(m))
	}
	return recs
}

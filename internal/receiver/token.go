package receiver

import "io"

// recvToken reads one entry of the Sender's delta token stream
// (rsync/token.c:recv_token): a positive token is a literal chunk of that
// many bytes, zero ends the file, and a negative token identifies a
// verbatim block from the basis file via -(token+1).
func (rt *Transfer) recvToken() (int32, []byte, error) {
	token, err := rt.Conn.ReadInt32()
	if err != nil {
		return 0, nil, err
	}
	if token <= 0 {
		return token, nil, nil
	}
	data := make([]byte, token)
	if _, err := io.ReadFull(rt.Conn.Reader, data); err != nil {
		return 0, nil, err
	}
	return token, data, nil
}

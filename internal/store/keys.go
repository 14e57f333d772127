package store

import "fmt"

// Key layout inside one identity's database:
//
//	session:<sid>                      -> SessionRecord JSON
//	msg:<sid>:<order_key_padded>:<cli> -> Message JSON
//	idx:cli:<cli_mid>                  -> primary message key
//	idx:srv:<mid_padded>               -> primary message key
//
// Message keys sort by the message ordering key, so paginated history
// reads are plain prefix scans. The two index namespaces keep messages
// retrievable by client id and by server id.

func sessionKey(sid string) []byte {
	return []byte("session:" + sid)
}

const sessionPrefix = "session:"

func msgKey(sid string, orderKey int64, cliMid string) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d:%s", sid, orderKey, cliMid))
}

func msgPrefix(sid string) []byte {
	return []byte("msg:" + sid + ":")
}

// msgUpperBound is the exclusive upper bound for messages of sid with
// an ordering key strictly below beforeKey.
func msgUpperBound(sid string, beforeKey int64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d", sid, beforeKey))
}

func cliIdxKey(cliMid string) []byte {
	return []byte("idx:cli:" + cliMid)
}

func srvIdxKey(mid int64) []byte {
	return []byte(fmt.Sprintf("idx:srv:%020d", mid))
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

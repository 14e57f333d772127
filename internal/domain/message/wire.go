package message

// Wire is the chat payload carried inside a transport envelope. The
// core requires nothing of the byte format beyond decodability into
// these fields.
type Wire struct {
	Mid     int64  `json:"mid,omitempty"`
	CliMid  string `json:"cliMid,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Type    int    `json:"type"`
	Content string `json:"content"`
	SendAt  int64  `json:"sendAt,omitempty"`
	Status  int    `json:"status,omitempty"`
}

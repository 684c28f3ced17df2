package profile

const (
	ftpGreeting  = "220 FTP Ready.\r\n"
	sshGreeting  = "SSH-2.0-OpenSSH_8.4\r\n"
	httpHeader   = "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n"
	httpBody     = "<html><body><h1>It works!</h1></body></html>"
	ftpUserReply = "331 Please specify the password.\r\n"
	sshPassReply = "Password: "
)

// rdpGreeting is an X.224 connection confirm stub.
var rdpGreeting = []byte{0x03, 0x00, 0x00, 0x0b, 0x06, 0xd0, 0x00, 0x00, 0x12, 0x34, 0x00}

// Defaults returns the reference service table: FTP, SSH, HTTP and RDP on
// their well-known ports.
func Defaults() []*Profile {
	return []*Profile{
		mustNew("FTP", 21, []byte(ftpGreeting),
			WithReactions(Reaction{Trigger: Contains("USER"), Response: []byte(ftpUserReply)})),
		mustNew("SSH", 22, []byte(sshGreeting),
			WithReactions(Reaction{Trigger: ContainsFold("ssh"), Response: []byte(sshPassReply)})),
		mustNew("HTTP", 80, []byte(httpHeader+httpBody), CloseAfterGreeting()),
		mustNew("RDP", 3389, rdpGreeting),
	}
}

func mustNew(name string, port int, greeting []byte, opts ...Option) *Profile {
	p, err := New(name, port, greeting, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

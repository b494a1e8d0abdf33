package simwire

// DefaultTemplates is the static catalogue populated at startup, per
// spec.md §4.5: a representative subset of a simulator-style protocol
// covering liveness probing, authentication, chat, and per-session
// handshake.
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:     "StartPingCheck",
			Opcode:   1,
			Reliable: true,
			Blocks: []Block{{
				Name:   "PingID",
				Repeat: RepeatSingle,
				Vars:   []Variable{{Name: "ID", Type: TUint8}},
			}},
		},
		{
			Name:     "CompletePingCheck",
			Opcode:   2,
			Reliable: false,
			Blocks: []Block{{
				Name:   "PingID",
				Repeat: RepeatSingle,
				Vars:   []Variable{{Name: "ID", Type: TUint8}},
			}},
		},
		{
			Name:     "LoginRequest",
			Opcode:   3,
			Reliable: true,
			Blocks: []Block{{
				Name:   "Credentials",
				Repeat: RepeatSingle,
				Vars: []Variable{
					{Name: "Username", Type: TString1},
					{Name: "PasswordHash", Type: TFixedBytes, FixedLen: 16},
					{Name: "MajorVersion", Type: TUint8},
					{Name: "MinorVersion", Type: TUint8},
				},
			}},
		},
		{
			Name:      "LoginReply",
			Opcode:    4,
			Reliable:  true,
			ZeroCoded: true,
			Blocks: []Block{{
				Name:   "Session",
				Repeat: RepeatSingle,
				Vars: []Variable{
					{Name: "SessionID", Type: TUUID},
					{Name: "AgentID", Type: TUUID},
					{Name: "CircuitCode", Type: TUint32},
				},
			}},
		},
		{
			Name:     "ChatFromViewer",
			Opcode:   5,
			Reliable: true,
			Blocks: []Block{{
				Name:   "ChatData",
				Repeat: RepeatSingle,
				Vars: []Variable{
					{Name: "Message", Type: TString2},
					{Name: "Type", Type: TUint8},
					{Name: "Channel", Type: TInt32},
				},
			}},
		},
		{
			Name:      "ChatFromSimulator",
			Opcode:    6,
			Reliable:  true,
			ZeroCoded: true,
			Blocks: []Block{{
				Name:   "ChatData",
				Repeat: RepeatSingle,
				Vars: []Variable{
					{Name: "FromName", Type: TString1},
					{Name: "SourceID", Type: TUUID},
					{Name: "SourceType", Type: TUint8},
					{Name: "Message", Type: TString2},
				},
			}},
		},
		{
			Name:     "UserInfoUpdate",
			Opcode:   7,
			Reliable: true,
			Blocks: []Block{{
				Name:   "UserData",
				Repeat: RepeatSingle,
				Vars: []Variable{
					{Name: "AgentID", Type: TUUID},
					{Name: "IMViaEMail", Type: TUint8},
					{Name: "DirectoryVisibility", Type: TString1},
				},
			}},
		},
		{
			Name:     "RegionHandshake",
			Opcode:   8,
			Reliable: true,
			Blocks: []Block{
				{
					Name:   "RegionInfo",
					Repeat: RepeatSingle,
					Vars: []Variable{
						{Name: "RegionFlags", Type: TUint32},
						{Name: "SimAccess", Type: TUint8},
						{Name: "SimName", Type: TString1},
						{Name: "SimOwner", Type: TUUID},
						{Name: "WaterHeight", Type: TFloat32},
						{Name: "BillableFactor", Type: TFloat32},
						{Name: "CacheID", Type: TUUID},
					},
				},
				{
					Name:   "RegionInfo4",
					Repeat: RepeatVariable,
					Vars: []Variable{
						{Name: "RegionFlagsExtended", Type: TUint64},
						{Name: "RegionProtocols", Type: TUint64},
					},
				},
			},
		},
		{
			Name:     "RegionHandshakeReply",
			Opcode:   9,
			Reliable: true,
			Blocks: []Block{{
				Name:   "RegionInfo",
				Repeat: RepeatSingle,
				Vars:   []Variable{{Name: "Flags", Type: TUint32}},
			}},
		},
	}
}

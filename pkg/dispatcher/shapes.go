package dispatcher

import "github.com/librescoot/mdb-link/pkg/proto"

// validateShape implements spec.md §4.5 step 3: length and internal
// length fields must match the command's declared layout. It returns
// false on any mismatch, in which case the caller sends STATUS_MALFORMED
// and never reaches the handler.
func validateShape(cmd proto.CommandID, payload []byte) bool {
	switch cmd {
	case proto.CmdVersion, proto.CmdFreeMemory, proto.CmdGetCapabilities:
		return len(payload) == 0
	case proto.CmdSetBaudRate:
		return len(payload) == 4
	case proto.CmdSetPinMode:
		return len(payload) == 2
	case proto.CmdDigitalWrite, proto.CmdAnalogWrite:
		return len(payload) == 2
	case proto.CmdDigitalRead, proto.CmdAnalogRead:
		return len(payload) == 1
	case proto.CmdConsoleWrite:
		return len(payload) <= proto.MaxPayloadSize
	case proto.CmdDatastorePut:
		return validateKeyValue(payload, 1, 1)
	case proto.CmdDatastoreGet:
		return validateLengthPrefixed(payload, 1)
	case proto.CmdMailboxRead, proto.CmdMailboxAvailable:
		return len(payload) == 0
	case proto.CmdMailboxPush:
		return validateU16LengthPrefixed(payload)
	case proto.CmdFileWrite:
		return validatePathData(payload)
	case proto.CmdFileRead:
		return validateLengthPrefixed(payload, 1)
	case proto.CmdFileRemove:
		return validateLengthPrefixed(payload, 1)
	case proto.CmdProcessRun, proto.CmdProcessRunAsync:
		return len(payload) >= 0 && len(payload) <= proto.MaxPayloadSize
	case proto.CmdProcessPoll:
		return len(payload) == 2
	case proto.CmdProcessKill:
		return len(payload) == 2
	case proto.CmdLinkReset:
		return len(payload) == 0 || len(payload) == 7
	default:
		return true
	}
}

// validateLengthPrefixed checks a single u8-length-prefixed blob:
// len_field:u8, bytes[len_field].
func validateLengthPrefixed(payload []byte, lenFieldBytes int) bool {
	if len(payload) < lenFieldBytes {
		return false
	}
	n := int(payload[0])
	return len(payload) == lenFieldBytes+n
}

// validateKeyValue checks key_len:u8, key, value_len:u8, value.
func validateKeyValue(payload []byte, keyLenBytes, valLenBytes int) bool {
	if len(payload) < keyLenBytes {
		return false
	}
	keyLen := int(payload[0])
	rest := payload[keyLenBytes:]
	if len(rest) < keyLen+valLenBytes {
		return false
	}
	rest = rest[keyLen:]
	valLen := int(rest[0])
	rest = rest[valLenBytes:]
	return len(rest) == valLen
}

// validatePathData checks path_len:u8, path, data_len:u16, data.
func validatePathData(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	pathLen := int(payload[0])
	rest := payload[1:]
	if len(rest) < pathLen+2 {
		return false
	}
	rest = rest[pathLen:]
	dataLen := int(rest[0])<<8 | int(rest[1])
	rest = rest[2:]
	return len(rest) == dataLen
}

// validateU16LengthPrefixed checks msg_len:u16, msg.
func validateU16LengthPrefixed(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	n := int(payload[0])<<8 | int(payload[1])
	return len(payload) == 2+n
}

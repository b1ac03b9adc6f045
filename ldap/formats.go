package ldap

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

func EndianConvert(sd string) (newSD string) {
	sdBytes, _ := hex.DecodeString(sd)

	for i, j := 0, len(sdBytes)-1; i < j; i, j = i+1, j-1 {
		sdBytes[i], sdBytes[j] = sdBytes[j], sdBytes[i]
	}

	newSD = hex.EncodeToString(sdBytes)

	return
}

func HexToDecimalString(hexStr string) (decimal string) {
	integer, _ := strconv.ParseInt(hexStr, 16, 64)
	decimal = strconv.Itoa(int(integer))

	return
}

// ConvertSID converts a hex-encoded binary SID into its S-1-... string form.
func ConvertSID(hexSID string) (SID string) {
	if len(hexSID) < 16 {
		return ""
	}

	var fields []string
	fields = append(fields, hexSID[0:2])
	if len(fields) > 0 && fields[0] == "01" {
		fields[0] = "S-1"
	}
	numDashes, _ := strconv.Atoi(HexToDecimalString(hexSID[2:4]))

	fields = append(fields, "-"+HexToDecimalString(hexSID[4:16]))

	lower, upper := 16, 24
	for i := 1; i <= numDashes; i++ {
		if upper > len(hexSID) {
			break
		}
		fields = append(fields, "-"+HexToDecimalString(EndianConvert(hexSID[lower:upper])))
		lower += 8
		upper += 8
	}

	for i := 0; i < len(fields); i++ {
		SID += (fields[i])
	}

	return
}

// EncodeSID converts an S-1-... SID string into its binary representation.
func EncodeSID(sid string) ([]byte, error) {
	parts := strings.Split(sid, "-")
	if len(parts) < 3 || strings.ToUpper(parts[0]) != "S" {
		return nil, fmt.Errorf("malformed SID %q", sid)
	}

	revision, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("malformed SID revision in %q", sid)
	}

	authority, err := strconv.ParseUint(parts[2], 10, 48)
	if err != nil {
		return nil, fmt.Errorf("malformed SID authority in %q", sid)
	}

	subAuths := parts[3:]
	out := make([]byte, 8+4*len(subAuths))
	out[0] = byte(revision)
	out[1] = byte(len(subAuths))

	// 48-bit big-endian identifier authority
	for i := 0; i < 6; i++ {
		out[7-i] = byte(authority >> (8 * i))
	}

	for i, sub := range subAuths {
		v, err := strconv.ParseUint(sub, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed SID sub-authority %q in %q", sub, sid)
		}
		binary.LittleEndian.PutUint32(out[8+4*i:], uint32(v))
	}

	return out, nil
}

// SIDFilter renders an equality filter on objectSid with the binary SID
// escaped for use in an LDAP search filter.
func SIDFilter(sid string) (string, error) {
	raw, err := EncodeSID(sid)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, b := range raw {
		fmt.Fprintf(&sb, "\\%02x", b)
	}

	return fmt.Sprintf("(objectSid=%s)", sb.String()), nil
}

func BytesToGUID(b []byte) string {
	if len(b) != 16 {
		return ""
	}

	hexStr := hex.EncodeToString(b)
	return ConvertGUID(hexStr)
}

func ConvertGUID(portion string) string {
	if len(portion) < 32 {
		return ""
	}

	portion1 := EndianConvert(portion[0:8])
	portion2 := EndianConvert(portion[8:12])
	portion3 := EndianConvert(portion[12:16])
	portion4 := portion[16:20]
	portion5 := portion[20:]
	return portion1 + "-" + portion2 + "-" + portion3 + "-" + portion4 + "-" + portion5
}

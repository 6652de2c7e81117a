package marshal

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
)

// gregorianOffset is the number of 100ns intervals between 1582-10-15 and the Unix epoch.
const gregorianOffset = 0x01b21dd213814000

var errTruncated = errors.New("truncated value")

// TimeUUID returns a version 1 UUID carrying t. The clock sequence and node are
// fixed so the result can bound a slice over a TimeUUIDType comparator: the
// lowest possible UUID for t, or the highest when upper is set.
func TimeUUID(t time.Time, upper bool) uuid.UUID {
	ts := uint64(gregorianOffset + t.UnixNano()/100)
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], uint32(ts))
	binary.BigEndian.PutUint16(u[4:6], uint16(ts>>32))
	binary.BigEndian.PutUint16(u[6:8], uint16(ts>>48)&0x0fff|0x1000)
	if upper {
		u[8], u[9] = 0xbf, 0xff
		for i := 10; i < 16; i++ {
			u[i] = 0xff
		}
	} else {
		u[8] = 0x80
	}
	return u
}

// UUIDTime extracts the timestamp from a version 1 UUID.
func UUIDTime(u uuid.UUID) time.Time {
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}

package domain

import "fmt"

// PartCount returns ceil(length / partSize)
func PartCount(length, partSize int64) int {
	if length <= 0 || partSize <= 0 {
		return 0
	}
	return int((length + partSize - 1) / partSize)
}

// ChooseKind picks the backfill strategy for an object of the given length
func ChooseKind(length, singleMaxSize int64) JobKind {
	if length <= singleMaxSize {
		return JobKindSingle
	}
	return JobKindMultipart
}

// SplitParts partitions [0, length) into contiguous parts numbered 1..N
func SplitParts(uploadID, key, contentType string, length, partSize int64) ([]PartTask, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("invalid part size %d", partSize)
	}
	if length <= 0 {
		return nil, ErrUnknownContentLength
	}

	count := PartCount(length, partSize)
	parts := make([]PartTask, 0, count)
	for i := 0; i < count; i++ {
		start := int64(i) * partSize
		end := min(start+partSize, length) - 1
		parts = append(parts, PartTask{
			UploadID:    uploadID,
			Key:         key,
			ContentType: contentType,
			Part:        i + 1,
			StartByte:   start,
			EndByte:     end,
			State:       JobStatePending,
		})
	}
	return parts, nil
}

package content

import "fmt"

// CleanedTextKey builds the deterministic key for a segment's cleaned text:
//
//	derived/{mediaType}/{workId}/{editionId}/{segmentType}-{NNNN}/cleaned.txt
//
// The segment number is zero-padded to 4 digits so keys sort in reading
// order.
func CleanedTextKey(mediaType, workID, editionID, segmentType string, number int) string {
	return fmt.Sprintf("derived/%s/%s/%s/%s-%04d/cleaned.txt",
		mediaType, workID, editionID, segmentType, number)
}

package analysis

// Normalize converts a document's raw result into the canonical two-pass
// shape. Absent passes become empty payloads, never nil, so downstream
// rendering has exactly one shape to handle. Pure function; calling it twice
// on the same document yields identical results.
func Normalize(doc Document) AnalysisResult {
	res := AnalysisResult{
		FirstPass: Payload{},
		FinalPass: Payload{},
	}
	if doc.Result == nil {
		return res
	}
	if doc.Result.Pass1Extraction != nil {
		res.FirstPass = doc.Result.Pass1Extraction
	}
	if doc.Result.Pass2Correction != nil {
		res.FinalPass = doc.Result.Pass2Correction
	}
	return res
}

// Package extraction turns uploaded PDFs into text for classification.
//
// Direct extraction runs pdftotext and keeps the result when it passes the
// quality heuristics. Text that is too short, too sparse per page, or mostly
// whitespace is re-extracted with OCR: pages are rasterized with pdftoppm and
// sent to the vision backend one at a time. OCR failures fall back to the
// direct text when any exists.
package extraction

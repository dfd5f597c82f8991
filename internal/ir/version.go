package ir

// Version is the pdfjson release version. Overridden by the linker at build time.
var Version = "0.1.0-dev"

// JournalVersion is the journal record format version.
const JournalVersion = "1"

package domain

// KeyPrefix namespaces every key silo writes to the shared Redis deployment.
const KeyPrefix = "silo:"

// DefaultDimensions is the output size of text-embedding-ada-002.
const DefaultDimensions = 1536

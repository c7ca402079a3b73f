package fsw

// ReadDirectoryChangesW watches the whole subtree natively.
const restartOnNewDirectory = false

package workflow

// squareJSON is a trimmed text-to-image graph: one positive and one negative
// prompt encoder, one sampler, plus pass-through nodes.
const squareJSON = `{
  "3": {
    "class_type": "KSampler",
    "inputs": {
      "cfg": 7,
      "denoise": 1,
      "latent_image": ["5", 0],
      "model": ["4", 0],
      "negative": ["7", 0],
      "positive": ["6", 0],
      "sampler_name": "euler",
      "scheduler": "normal",
      "seed": 8566257,
      "steps": 20
    }
  },
  "4": {
    "class_type": "CheckpointLoaderSimple",
    "inputs": {"ckpt_name": "v1-5-pruned-emaonly.safetensors"}
  },
  "5": {
    "class_type": "EmptyLatentImage",
    "inputs": {"batch_size": 1, "height": 512, "width": 512}
  },
  "6": {
    "class_type": "CLIPTextEncode",
    "inputs": {"clip": ["4", 1], "text": "placeholder positive"},
    "_meta": {"title": "Positive"}
  },
  "7": {
    "class_type": "CLIPTextEncode",
    "inputs": {"clip": ["4", 1], "text": "placeholder negative"}
  },
  "9": {
    "class_type": "SaveImage",
    "inputs": {"filename_prefix": "ComfyUI", "images": ["8", 0]}
  },
  "10": {
    "class_type": "CLIPTextEncode",
    "inputs": {"clip": ["4", 1]}
  },
  "note": "free-form value"
}`

const wideYAML = `
"1":
  class_type: CLIPTextEncode
  inputs:
    text: placeholder
"2":
  class_type: KSampler
  inputs:
    steps: 30
"3":
  class_type: FluxSampler
  inputs:
    noise_seed: 1
`
